package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/storage"
)

func TestScreenshotRunsAnalysisInBackground(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	b, err := Binding.Generate(ctx, "user-a")
	require.NoError(t, err)

	result, err := Upload.Screenshot(ctx, UploadInput{Code: b.Code, Image: []byte("jpeg-bytes")})
	require.NoError(t, err)
	assert.Equal(t, "user-a", result.OpenID)
	assert.True(t, strings.HasPrefix(result.FileID, "blob://screenshots/user-a/"))
	assert.True(t, strings.HasSuffix(result.FileID, ".jpg"))
	assert.NotEmpty(t, result.JobID)

	require.NoError(t, waitJob(t, result.Job))

	sess := getSession(t, "user-a")
	assert.Equal(t, result.FileID, sess.ImageURL)
	assert.Equal(t, model.SessionCompleted, sess.Status)
	assert.Equal(t, "abc", sess.Answer)

	job, err := Jobs.Get("user-a", result.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobDone, job.Status)
	assert.Equal(t, "stream", job.Mode)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)

	// 其他用户查不到这个任务
	_, err = Jobs.Get("user-b", result.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	r, err := env.store.Open(ctx, result.FileID)
	require.NoError(t, err)
	defer r.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", buf.String())
}

// TestScreenshotRejectsOversizedBeforeWrite 超过 10MB 的图片在写入存储前被拒绝
func TestScreenshotRejectsOversizedBeforeWrite(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	b, err := Binding.Generate(ctx, "user-a")
	require.NoError(t, err)

	_, err = Upload.Screenshot(ctx, UploadInput{Code: b.Code, Image: make([]byte, 10*1024*1024+1)})
	var sizeErr *SizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, "图片过大(10.00MB)", err.Error())
	assert.Equal(t, 0, env.store.putCount())

	sess := getSession(t, "user-a")
	assert.Equal(t, model.SessionWaiting, sess.Status)

	var jobs int64
	require.NoError(t, database.DB.Model(&model.AnalysisJob{}).Count(&jobs).Error)
	assert.Zero(t, jobs)
}

func TestScreenshotValidation(t *testing.T) {
	setupTest(t)
	ctx := context.Background()

	b, err := Binding.Generate(ctx, "user-a")
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      UploadInput
		wantErr error
	}{
		{name: "缺少绑定码", in: UploadInput{Image: []byte("x")}, wantErr: ErrCodeMissing},
		{name: "缺少图片", in: UploadInput{Code: b.Code}, wantErr: ErrImageMissing},
		{name: "绑定码不存在", in: UploadInput{Code: "abcdef", Image: []byte("x")}, wantErr: ErrCodeInvalid},
		{name: "他人的文件", in: UploadInput{Code: b.Code, FileID: "blob://screenshots/user-b/1.jpg"}, wantErr: ErrFileForbidden},
		{name: "文件不存在", in: UploadInput{Code: b.Code, FileID: "blob://screenshots/user-a/missing.jpg"}, wantErr: storage.ErrNotFound},
		{name: "非法fileID", in: UploadInput{Code: b.Code, FileID: "cloud://x/y.jpg"}, wantErr: storage.ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Upload.Screenshot(ctx, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// TestScreenshotExpiredCode 绑定码过期后上传被拒绝
func TestScreenshotExpiredCode(t *testing.T) {
	setupTest(t)
	advance := freezeTime(t, time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	b, err := Binding.Generate(ctx, "user-a")
	require.NoError(t, err)
	advance(30*time.Minute + time.Second)

	_, err = Upload.Screenshot(ctx, UploadInput{Code: b.Code, Image: []byte("x")})
	assert.ErrorIs(t, err, ErrCodeExpired)
}

// TestGrantThenUploadByFileID 先获取上传链接直传，再用 fileID 触发分析
func TestGrantThenUploadByFileID(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	b, err := Binding.Generate(ctx, "user-a")
	require.NoError(t, err)

	grant, err := Upload.Grant(ctx, b.Code)
	require.NoError(t, err)
	assert.Equal(t, "user-a", grant.OpenID)
	assert.True(t, strings.HasPrefix(grant.CloudPath, "screenshots/user-a/"))
	assert.Equal(t, storage.FileID(grant.CloudPath), grant.FileID)
	assert.Contains(t, grant.UploadURL, "/api/v1/blob/"+grant.CloudPath+"?token=")

	token := grant.UploadURL[strings.Index(grant.UploadURL, "token=")+len("token="):]
	fileID, err := Upload.PutBlob(ctx, token, grant.CloudPath, []byte("direct"))
	require.NoError(t, err)
	assert.Equal(t, grant.FileID, fileID)

	// 上传令牌不能用来下载
	_, err = Upload.OpenBlob(ctx, token, grant.CloudPath)
	assert.ErrorIs(t, err, storage.ErrInvalidToken)

	result, err := Upload.Screenshot(ctx, UploadInput{Code: b.Code, FileID: fileID})
	require.NoError(t, err)
	require.NoError(t, waitJob(t, result.Job))
	assert.Equal(t, model.SessionCompleted, getSession(t, "user-a").Status)
	assert.Equal(t, 1, env.store.putCount())
}

func TestStoreFile(t *testing.T) {
	setupTest(t)
	ctx := context.Background()

	b, err := Binding.Generate(ctx, "user-a")
	require.NoError(t, err)

	fileID, err := Upload.StoreFile(ctx, b.Code, "screenshots/user-a/manual.jpg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "blob://screenshots/user-a/manual.jpg", fileID)

	_, err = Upload.StoreFile(ctx, b.Code, "screenshots/user-b/manual.jpg", []byte("x"))
	assert.ErrorIs(t, err, ErrFileForbidden)

	_, err = Upload.StoreFile(ctx, b.Code, "", []byte("x"))
	assert.ErrorIs(t, err, ErrPathMissing)

	_, err = Upload.StoreFile(ctx, b.Code, "screenshots/user-a/a.jpg", nil)
	assert.ErrorIs(t, err, ErrContentMissing)

	_, err = Upload.StoreFile(ctx, b.Code, "screenshots/user-a/big.jpg", make([]byte, 10*1024*1024+1))
	require.Error(t, err)
	assert.Equal(t, "文件过大(10.00MB)，最大支持10MB", err.Error())
}

func TestTempURLOwnPrefixOnly(t *testing.T) {
	setupTest(t)

	u, ttl, err := Upload.TempURL("user-a", "blob://screenshots/user-a/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)
	assert.Contains(t, u, "/api/v1/blob/screenshots/user-a/1.jpg?token=")

	_, _, err = Upload.TempURL("user-a", "blob://screenshots/user-b/1.jpg")
	assert.ErrorIs(t, err, ErrFileForbidden)

	// 前缀相同的其他用户也不能访问
	_, _, err = Upload.TempURL("user", "blob://screenshots/user-a/1.jpg")
	assert.ErrorIs(t, err, ErrFileForbidden)
}

func TestBlobPath(t *testing.T) {
	ts := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	p := BlobPath("user-a", ts)
	assert.Regexp(t, `^screenshots/user-a/1792404000000_[0-9a-z]{6}\.jpg$`, p)
}
