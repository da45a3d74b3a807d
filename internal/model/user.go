package model

import (
	"time"

	"gorm.io/gorm"
)

// User 小程序用户，以 OpenID 作为身份
type User struct {
	ID        uint   `gorm:"primarykey"`
	OpenID    string `gorm:"size:64;uniqueIndex"`
	UnionID   string `gorm:"size:64;index"` // 微信unionid
	Nickname  string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}
