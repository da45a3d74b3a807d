package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/thanhpk/randstr"
	"gorm.io/gorm"

	"github.com/turmony/douBao/internal/config"
	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/logger"
)

const CodeLength = 6

var Binding = new(BindingService)

type BindingService struct{}

// Generate 让用户旧的绑定码失效并生成新的绑定码，同时重置会话
func (s *BindingService) Generate(ctx context.Context, openid string) (*model.Binding, error) {
	issuedAt := now()
	binding := &model.Binding{
		Code:       NewCode(),
		OpenID:     openid,
		Status:     model.BindingActive,
		CreateTime: issuedAt,
		ExpireTime: issuedAt.Add(codeTTL()),
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Binding{}).
			Where("open_id = ? AND status = ?", openid, model.BindingActive).
			Update("status", model.BindingExpired).Error; err != nil {
			return errors.Wrap(err, "使旧绑定码失效失败")
		}
		if err := tx.Create(binding).Error; err != nil {
			return errors.Wrap(err, "创建绑定码失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.warnCollision(binding)

	if err := Session.Reset(ctx, openid, binding.Code); err != nil {
		return nil, err
	}

	logger.Infof("生成绑定码: openid=%s, code=%s, expire=%s", openid, binding.Code, binding.ExpireTime.Format(time.RFC3339))
	return binding, nil
}

// Refresh 刷新绑定码，与 Generate 相同
func (s *BindingService) Refresh(ctx context.Context, openid string) (*model.Binding, error) {
	return s.Generate(ctx, openid)
}

// Bind 电脑端输入绑定码后的校验，要求恰好 6 位
func (s *BindingService) Bind(code string) (*model.Binding, error) {
	if code == "" {
		return nil, ErrCodeMissing
	}
	if len(code) != CodeLength {
		return nil, ErrCodeFormat
	}
	return s.Validate(code)
}

// Validate 校验绑定码，已过期的绑定码会被标记为 expired
func (s *BindingService) Validate(code string) (*model.Binding, error) {
	if code == "" {
		return nil, ErrCodeMissing
	}

	var binding model.Binding
	err := database.DB.
		Where("code = ? AND status = ?", code, model.BindingActive).
		Order("create_time desc").
		First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		return nil, errors.Wrap(err, "查询绑定码失败")
	}

	if binding.Expired(now()) {
		if err := database.DB.Model(&binding).Update("status", model.BindingExpired).Error; err != nil {
			logger.Errorf("标记绑定码过期失败: code=%s, err=%v", code, err)
		}
		return nil, ErrCodeExpired
	}

	return &binding, nil
}

// ExpireStale 批量将已过期但仍为 active 的绑定码标记为 expired
func (s *BindingService) ExpireStale() (int64, error) {
	result := database.DB.Model(&model.Binding{}).
		Where("status = ? AND expire_time < ?", model.BindingActive, now()).
		Update("status", model.BindingExpired)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "清理过期绑定码失败")
	}
	return result.RowsAffected, nil
}

// warnCollision 只记录不同用户间的绑定码冲突，不做处理
func (s *BindingService) warnCollision(b *model.Binding) {
	var count int64
	err := database.DB.Model(&model.Binding{}).
		Where("code = ? AND status = ? AND open_id <> ? AND expire_time > ?", b.Code, model.BindingActive, b.OpenID, now()).
		Count(&count).Error
	if err != nil {
		logger.Warnf("检查绑定码冲突失败: %v", err)
		return
	}
	if count > 0 {
		logger.Warnf("绑定码冲突: code=%s 同时被 %d 个其他用户持有", b.Code, count)
	}
}

// NewCode 生成 6 位十进制随机绑定码
func NewCode() string {
	return randstr.String(CodeLength, "0123456789")
}

func codeTTL() time.Duration {
	if config.GlobalConfig != nil && config.GlobalConfig.Binding.CodeTTL > 0 {
		return config.GlobalConfig.Binding.CodeTTL
	}
	return 30 * time.Minute
}
