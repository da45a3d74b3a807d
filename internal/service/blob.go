package service

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/pkg/storage"
)

// OpenBlob 校验临时下载链接并打开文件
func (s *UploadService) OpenBlob(ctx context.Context, token, path string) (io.ReadCloser, error) {
	if err := s.verify(token, path, storage.OpGet); err != nil {
		return nil, err
	}
	return s.store.Open(ctx, storage.FileID(path))
}

// PutBlob 校验临时上传链接并写入文件
func (s *UploadService) PutBlob(ctx context.Context, token, path string, data []byte) (string, error) {
	if err := s.verify(token, path, storage.OpPut); err != nil {
		return "", err
	}
	if err := checkSize(len(data), s.maxSize, true); err != nil {
		return "", err
	}
	fileID, err := s.store.Put(ctx, path, data)
	if err != nil {
		return "", errors.Wrap(err, "上传到云存储失败")
	}
	logger.Infof("直传完成, fileID: %s, 大小: %.2f MB", fileID, float64(len(data))/(1024*1024))
	return fileID, nil
}

// CheckSize 请求体过大时在读取前拒绝
func (s *UploadService) CheckSize(n int64) error {
	if n > s.maxSize {
		return &SizeError{Size: n, Limit: s.maxSize}
	}
	return nil
}

func (s *UploadService) verify(token, path, op string) error {
	v, ok := s.store.(storage.Verifier)
	if !ok {
		return errors.New("存储不支持临时链接")
	}
	if token == "" {
		return storage.ErrInvalidToken
	}
	return v.Verify(token, path, op)
}
