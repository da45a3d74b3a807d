package service

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrCodeMissing    = errors.New("缺少绑定码参数")
	ErrCodeFormat     = errors.New("无效的绑定码")
	ErrCodeInvalid    = errors.New("绑定码无效或已过期")
	ErrCodeExpired    = errors.New("绑定码已过期")
	ErrImageMissing   = errors.New("缺少图片数据")
	ErrPathMissing    = errors.New("缺少云存储路径")
	ErrContentMissing = errors.New("缺少文件内容")
	ErrFileForbidden  = errors.New("无权访问该文件")
	ErrSessionMissing = errors.New("会话不存在")
	ErrJobNotFound    = errors.New("任务不存在")
	ErrSuperseded     = errors.New("会话已被新的上传覆盖")
)

// SizeError 图片或文件超过大小限制
type SizeError struct {
	Size  int64
	Limit int64
	File  bool // uploadToStorage 的提示文案不同
}

func (e *SizeError) Error() string {
	mb := float64(e.Size) / (1024 * 1024)
	if e.File {
		return fmt.Sprintf("文件过大(%.2fMB)，最大支持%dMB", mb, e.Limit/(1024*1024))
	}
	return fmt.Sprintf("图片过大(%.2fMB)", mb)
}

func checkSize(n int, limit int64, file bool) error {
	if int64(n) > limit {
		return &SizeError{Size: int64(n), Limit: limit, File: file}
	}
	return nil
}
