package model

import (
	"time"

	"gorm.io/gorm"
)

// Voucher 秒杀券：库存、秒杀价、活动时间段。
type Voucher struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Stock 为 DB 侧库存；秒杀实时扣减走 Redis，消费端落库时异步对账。
	Title     string    `gorm:"size:128;not null" json:"title"`
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	SalePrice int64     `gorm:"not null" json:"sale_price"` // 单位：分
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (Voucher) TableName() string { return "vouchers" }
