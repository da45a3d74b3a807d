package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/thanhpk/randstr"

	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/pkg/storage"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

var Upload = &UploadService{
	maxSize:     10 * 1024 * 1024,
	uploadTTL:   5 * time.Minute,
	downloadTTL: 10 * time.Minute,
}

type UploadService struct {
	store       storage.Store
	maxSize     int64
	uploadTTL   time.Duration
	downloadTTL time.Duration
}

// UploadInput 上传截图的参数，Image 与 FileID 至少一个
type UploadInput struct {
	Code   string
	Image  []byte
	FileID string
}

type UploadResult struct {
	OpenID string
	FileID string
	JobID  string
	Job    *Handle
}

// Grant 获取直传云存储的临时上传链接
type Grant struct {
	UploadURL string `json:"uploadUrl"`
	FileID    string `json:"fileID"`
	CloudPath string `json:"cloudPath"`
	OpenID    string `json:"openid"`
}

// Screenshot 校验绑定码、保存图片、更新会话并在后台触发分析
func (s *UploadService) Screenshot(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if in.Code == "" {
		return nil, ErrCodeMissing
	}
	if len(in.Image) == 0 && in.FileID == "" {
		return nil, ErrImageMissing
	}

	binding, err := Binding.Validate(in.Code)
	if err != nil {
		return nil, err
	}
	logger.Infof("绑定码验证通过, openid: %s", binding.OpenID)

	fileID := in.FileID
	if len(in.Image) > 0 {
		if err := checkSize(len(in.Image), s.maxSize, false); err != nil {
			return nil, err
		}
		fileID, err = s.store.Put(ctx, BlobPath(binding.OpenID, now()), in.Image)
		if err != nil {
			return nil, errors.Wrap(err, "上传到云存储失败")
		}
		logger.Infof("上传成功, fileID: %s, 大小: %.2f MB", fileID, float64(len(in.Image))/(1024*1024))
	} else if err := s.checkOwned(ctx, binding.OpenID, fileID); err != nil {
		return nil, err
	}

	if err := Session.StartProcessing(ctx, binding.OpenID, binding.Code, fileID); err != nil {
		return nil, err
	}

	job, err := Jobs.Submit(binding.OpenID, fileID)
	if err != nil {
		return nil, err
	}
	logger.Infof("已触发异步分析: openid=%s, job=%s", binding.OpenID, job.ID)

	return &UploadResult{OpenID: binding.OpenID, FileID: fileID, JobID: job.ID, Job: job}, nil
}

// Grant 生成云存储路径和临时上传链接
func (s *UploadService) Grant(ctx context.Context, code string) (*Grant, error) {
	binding, err := Binding.Validate(code)
	if err != nil {
		return nil, err
	}

	cloudPath := BlobPath(binding.OpenID, now())
	uploadURL, fileID, err := s.store.UploadURL(cloudPath, s.uploadTTL)
	if err != nil {
		return nil, errors.Wrap(err, "获取临时上传链接失败")
	}
	return &Grant{UploadURL: uploadURL, FileID: fileID, CloudPath: cloudPath, OpenID: binding.OpenID}, nil
}

// StoreFile 把 base64 解码后的文件写入云存储，只允许写入用户自己的目录
func (s *UploadService) StoreFile(ctx context.Context, code, cloudPath string, content []byte) (string, error) {
	if code == "" {
		return "", ErrCodeMissing
	}
	if cloudPath == "" {
		return "", ErrPathMissing
	}
	if len(content) == 0 {
		return "", ErrContentMissing
	}

	binding, err := Binding.Validate(code)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(cloudPath, userPrefix(binding.OpenID)) {
		return "", ErrFileForbidden
	}
	if err := checkSize(len(content), s.maxSize, true); err != nil {
		return "", err
	}

	fileID, err := s.store.Put(ctx, cloudPath, content)
	if err != nil {
		return "", errors.Wrap(err, "上传到云存储失败")
	}
	return fileID, nil
}

// TempURL 为用户自己的截图生成临时下载链接
func (s *UploadService) TempURL(openid, fileID string) (string, time.Duration, error) {
	if fileID == "" {
		return "", 0, ErrImageMissing
	}
	if err := OwnsFile(openid, fileID); err != nil {
		return "", 0, err
	}
	u, err := s.store.TempURL(fileID, s.downloadTTL)
	if err != nil {
		return "", 0, errors.Wrap(err, "获取临时链接失败")
	}
	return u, s.downloadTTL, nil
}

// MaxSize 单张图片的大小上限
func (s *UploadService) MaxSize() int64 {
	return s.maxSize
}

func (s *UploadService) checkOwned(ctx context.Context, openid, fileID string) error {
	if err := OwnsFile(openid, fileID); err != nil {
		return err
	}
	ok, err := s.store.Exists(ctx, fileID)
	if err != nil {
		return errors.Wrap(err, "查询文件失败")
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

// OwnsFile 检查 fileID 是否位于用户自己的截图目录下
func OwnsFile(openid, fileID string) error {
	path, err := storage.PathOf(fileID)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(path, userPrefix(openid)) {
		return ErrFileForbidden
	}
	return nil
}

// BlobPath screenshots/<openid>/<毫秒时间戳>_<6位随机串>.jpg
func BlobPath(openid string, t time.Time) string {
	return fmt.Sprintf("%s%d_%s.jpg", userPrefix(openid), t.UnixMilli(), randstr.String(6, base36))
}

func userPrefix(openid string) string {
	return "screenshots/" + openid + "/"
}
