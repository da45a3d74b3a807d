// Package storage keeps uploaded screenshots and hands out time-limited
// capability URLs for them.
package storage

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const fileIDScheme = "blob://"

var (
	ErrNotFound     = errors.New("文件不存在")
	ErrInvalidPath  = errors.New("非法的存储路径")
	ErrInvalidToken = errors.New("临时链接无效或已过期")
)

// Store is the blob store used by the upload and analysis flows.
type Store interface {
	Put(ctx context.Context, path string, data []byte) (fileID string, err error)
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
	Exists(ctx context.Context, fileID string) (bool, error)
	// TempURL returns a download URL valid for ttl.
	TempURL(fileID string, ttl time.Duration) (string, error)
	// UploadURL returns a PUT URL valid for ttl and the fileID the object will have.
	UploadURL(path string, ttl time.Duration) (url string, fileID string, err error)
}

// Verifier checks capability tokens carried by signed URLs.
type Verifier interface {
	Verify(token, path, op string) error
}

// FileID converts a storage path to its file ID.
func FileID(path string) string {
	return fileIDScheme + path
}

// PathOf extracts the storage path from a file ID.
func PathOf(fileID string) (string, error) {
	if !strings.HasPrefix(fileID, fileIDScheme) {
		return "", errors.Wrapf(ErrInvalidPath, "fileID %q", fileID)
	}
	return cleanPath(strings.TrimPrefix(fileID, fileIDScheme))
}

// cleanPath rejects absolute paths and parent traversal.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", errors.Wrapf(ErrInvalidPath, "path %q", p)
		}
	}
	return p, nil
}
