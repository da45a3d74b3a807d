package service

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
)

var User = new(UserService)

type UserService struct{}

var ErrUserMissing = errors.New("用户不存在")

func (s *UserService) GetProfile(openid string) (*model.User, error) {
	var user model.User
	err := database.DB.Where("open_id = ?", openid).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserMissing
	}
	if err != nil {
		return nil, errors.Wrap(err, "查询用户失败")
	}
	return &user, nil
}

// UpdateProfile 目前只允许修改昵称
func (s *UserService) UpdateProfile(openid, nickname string) error {
	if nickname == "" {
		return nil
	}
	return database.DB.Model(&model.User{}).Where("open_id = ?", openid).Update("nickname", nickname).Error
}
