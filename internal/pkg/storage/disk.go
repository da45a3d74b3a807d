package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
)

const (
	OpGet = "get"
	OpPut = "put"
)

// DiskStore keeps blobs under a local directory and serves them through
// signed URLs of the form <publicURL>/api/v1/blob/<path>?token=<jwt>.
type DiskStore struct {
	root      string
	publicURL string
	secret    []byte
	now       func() time.Time
}

func NewDiskStore(root, publicURL, secret string) (*DiskStore, error) {
	if secret == "" {
		return nil, errors.New("storage secret is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "create storage root")
	}
	return &DiskStore{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
		secret:    []byte(secret),
		now:       time.Now,
	}, nil
}

func (s *DiskStore) Put(ctx context.Context, path string, data []byte) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	full := s.fullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", errors.Wrap(err, "create blob directory")
	}

	// 先写临时文件再改名，读方不会看到写了一半的图片
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", errors.Wrap(err, "write blob")
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "commit blob")
	}
	return FileID(p), nil
}

func (s *DiskStore) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	p, err := PathOf(fileID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.fullPath(p))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "fileID %s", fileID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open blob")
	}
	return f, nil
}

func (s *DiskStore) Exists(ctx context.Context, fileID string) (bool, error) {
	p, err := PathOf(fileID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.fullPath(p))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "stat blob")
	}
	return true, nil
}

func (s *DiskStore) TempURL(fileID string, ttl time.Duration) (string, error) {
	p, err := PathOf(fileID)
	if err != nil {
		return "", err
	}
	return s.signedURL(p, OpGet, ttl)
}

func (s *DiskStore) UploadURL(path string, ttl time.Duration) (string, string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", "", err
	}
	u, err := s.signedURL(p, OpPut, ttl)
	if err != nil {
		return "", "", err
	}
	return u, FileID(p), nil
}

// Verify checks that token grants op on path.
func (s *DiskStore) Verify(token, path, op string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	claims := &grantClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名方法: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Path != p || claims.Op != op {
		return ErrInvalidToken
	}
	return nil
}

type grantClaims struct {
	Path string `json:"path"`
	Op   string `json:"op"`
	jwt.StandardClaims
}

func (s *DiskStore) signedURL(p, op string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := grantClaims{
		Path: p,
		Op:   op,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign blob url")
	}
	return fmt.Sprintf("%s/api/v1/blob/%s?token=%s", s.publicURL, escapePath(p), url.QueryEscape(token)), nil
}

func (s *DiskStore) fullPath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(p))
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
