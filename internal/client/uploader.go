package client

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/pkg/errors"

	"github.com/turmony/douBao/internal/pkg/logger"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// MaxImageSize 与服务端一致的单张图片上限
const MaxImageSize = 10 * 1024 * 1024

var ErrCodeFormat = errors.New("绑定码必须是6位数字")

// Uploader 电脑端上传截图
type Uploader struct {
	api  *API
	mode string
}

func NewUploader(api *API, mode string) *Uploader {
	return &Uploader{api: api, mode: mode}
}

// UploadFile 校验绑定码后上传本地图片，返回 fileID
func (u *Uploader) UploadFile(ctx context.Context, code, path string) (string, error) {
	if !codePattern.MatchString(code) {
		return "", ErrCodeFormat
	}

	openid, err := u.api.Bind(ctx, code)
	if err != nil {
		return "", errors.Wrap(err, "绑定失败")
	}
	logger.Infof("绑定成功: openid=%s", openid)

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, "读取图片失败")
	}
	if info.Size() > MaxImageSize {
		return "", fmt.Errorf("图片过大(%.2fMB)", float64(info.Size())/(1024*1024))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "读取图片失败")
	}

	fileID, err := u.api.Upload(ctx, code, data, u.mode)
	if err != nil {
		return "", errors.Wrap(err, "上传失败")
	}
	logger.Infof("上传成功，正在分析中: fileID=%s", fileID)
	return fileID, nil
}
