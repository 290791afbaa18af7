package model

import (
	"time"

	"gorm.io/gorm"
)

// Order 秒杀订单。订单号来自 ID 生成器，时间有序；
// (voucher_id, user_id) 唯一索引兜底一人一单。
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderID   int64 `gorm:"uniqueIndex;not null" json:"order_id"`
	UserID    int64 `gorm:"not null;uniqueIndex:idx_voucher_user" json:"user_id"`
	VoucherID uint  `gorm:"not null;uniqueIndex:idx_voucher_user" json:"voucher_id"`
	Amount    int64 `gorm:"not null" json:"amount"` // 总金额，单位分
	Status    int   `gorm:"not null;default:0" json:"status"` // 0 待支付 1 已支付 2 已取消
}

const (
	OrderStatusUnpaid   = 0
	OrderStatusPaid     = 1
	OrderStatusCanceled = 2
)

func (Order) TableName() string { return "orders" }
