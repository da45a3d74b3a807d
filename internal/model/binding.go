package model

import "time"

const (
	BindingActive  = "active"
	BindingExpired = "expired"
)

// Binding 绑定码，把电脑端与小程序用户关联起来
type Binding struct {
	ID         uint      `gorm:"primarykey" json:"-"`
	Code       string    `gorm:"size:6;index:idx_code_status" json:"code"`
	OpenID     string    `gorm:"size:64;index" json:"openid"`
	Status     string    `gorm:"size:20;index:idx_code_status" json:"status"` // active, expired
	CreateTime time.Time `json:"createTime"`
	ExpireTime time.Time `gorm:"index" json:"expireTime"`
}

// Expired 判断绑定码在 now 时刻是否已过期
func (b *Binding) Expired(now time.Time) bool {
	return b.ExpireTime.Before(now)
}
