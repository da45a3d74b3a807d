package service

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/pkg/notify"
)

var Session = &SessionService{notifier: notify.NewHub()}

// SessionService 维护每个用户唯一的会话记录
type SessionService struct {
	locks    keyedMutex
	notifier notify.Notifier
}

func (s *SessionService) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

// Get 获取用户当前会话
func (s *SessionService) Get(openid string) (*model.Session, error) {
	var sess model.Session
	err := database.DB.Where("open_id = ?", openid).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionMissing
	}
	if err != nil {
		return nil, errors.Wrap(err, "查询会话失败")
	}
	return &sess, nil
}

// Subscribe 订阅用户会话的变化
func (s *SessionService) Subscribe(ctx context.Context, openid string) (<-chan *model.Session, func(), error) {
	return s.notifier.Subscribe(ctx, openid)
}

// Reset 新绑定码生成后把会话重置为等待状态，不存在则创建
func (s *SessionService) Reset(ctx context.Context, openid, code string) error {
	unlock := s.locks.Lock(openid)
	defer unlock()

	fields := map[string]interface{}{
		"code":           code,
		"image_url":      "",
		"answer":         "",
		"partial_answer": "",
		"status":         model.SessionWaiting,
		"error_msg":      "",
	}
	ok, err := s.write(openid, "", fields)
	if err != nil {
		return err
	}
	if !ok {
		sess := &model.Session{
			OpenID:     openid,
			Code:       code,
			Status:     model.SessionWaiting,
			Version:    1,
			UpdateTime: now(),
		}
		if err := database.DB.Create(sess).Error; err != nil {
			return errors.Wrap(err, "创建会话失败")
		}
	}
	s.publish(ctx, openid)
	return nil
}

// StartProcessing 记录新上传的图片并清空上一轮的答案
func (s *SessionService) StartProcessing(ctx context.Context, openid, code, fileID string) error {
	unlock := s.locks.Lock(openid)
	defer unlock()

	fields := map[string]interface{}{
		"image_url":      fileID,
		"status":         model.SessionProcessing,
		"answer":         "",
		"partial_answer": "",
		"error_msg":      "",
	}
	ok, err := s.write(openid, "", fields)
	if err != nil {
		return err
	}
	if !ok {
		sess := &model.Session{
			OpenID:     openid,
			Code:       code,
			ImageURL:   fileID,
			Status:     model.SessionProcessing,
			Version:    1,
			UpdateTime: now(),
		}
		if err := database.DB.Create(sess).Error; err != nil {
			return errors.Wrap(err, "创建会话失败")
		}
	}
	s.publish(ctx, openid)
	return nil
}

// UpdateForImage 仅当会话仍指向 fileID 时才写入，返回 ErrSuperseded 表示
// 用户已经上传了新的图片
func (s *SessionService) UpdateForImage(ctx context.Context, openid, fileID string, fields map[string]interface{}) error {
	unlock := s.locks.Lock(openid)
	defer unlock()

	ok, err := s.write(openid, fileID, fields)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSuperseded
	}
	s.publish(ctx, openid)
	return nil
}

func (s *SessionService) write(openid, fileID string, fields map[string]interface{}) (bool, error) {
	fields["update_time"] = now()
	fields["version"] = gorm.Expr("version + 1")

	query := database.DB.Model(&model.Session{}).Where("open_id = ?", openid)
	if fileID != "" {
		query = query.Where("image_url = ?", fileID)
	}
	result := query.Updates(fields)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "更新会话失败")
	}
	return result.RowsAffected > 0, nil
}

func (s *SessionService) publish(ctx context.Context, openid string) {
	if s.notifier == nil {
		return
	}
	sess, err := s.Get(openid)
	if err != nil {
		logger.Warnf("推送会话前读取失败: openid=%s, err=%v", openid, err)
		return
	}
	if err := s.notifier.Publish(ctx, sess); err != nil {
		logger.Warnf("推送会话失败: openid=%s, err=%v", openid, err)
	}
}
