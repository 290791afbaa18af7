package model

import (
	"time"

	"gorm.io/gorm"
)

// User 用户，手机验证码登录后由中间件携带身份。
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Phone    string `gorm:"size:16;uniqueIndex;not null" json:"phone"`
	NickName string `gorm:"size:64" json:"nick_name"`
}

func (User) TableName() string { return "users" }
