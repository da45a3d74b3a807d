package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"

	"github.com/turmony/douBao/internal/config"
	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/notify"
	"github.com/turmony/douBao/internal/pkg/storage"
)

// fakeAnalyzer 按预设的片段返回结果，afterDelta 在每个片段写入后调用
type fakeAnalyzer struct {
	deltas     []string
	answer     string
	err        error
	afterDelta func(i int)

	mu       sync.Mutex
	imageURL string
}

func (f *fakeAnalyzer) Complete(ctx context.Context, imageURL string) (string, error) {
	f.mu.Lock()
	f.imageURL = imageURL
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeAnalyzer) Stream(ctx context.Context, imageURL string, onDelta func(string) error) (string, error) {
	f.mu.Lock()
	f.imageURL = imageURL
	f.mu.Unlock()

	var full strings.Builder
	for i, d := range f.deltas {
		full.WriteString(d)
		if err := onDelta(d); err != nil {
			return full.String(), err
		}
		if f.afterDelta != nil {
			f.afterDelta(i)
		}
	}
	if f.err != nil {
		return full.String(), f.err
	}
	return full.String(), nil
}

func (f *fakeAnalyzer) lastImageURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imageURL
}

// countingStore 记录写入次数
type countingStore struct {
	storage.Store
	mu   sync.Mutex
	puts int
}

func (s *countingStore) Put(ctx context.Context, path string, data []byte) (string, error) {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.Store.Put(ctx, path, data)
}

func (s *countingStore) Verify(token, path, op string) error {
	return s.Store.(storage.Verifier).Verify(token, path, op)
}

func (s *countingStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type testEnv struct {
	cfg      *config.Config
	store    *countingStore
	analyzer *fakeAnalyzer
	hub      *notify.Hub
}

// setupTest 使用临时 SQLite 数据库和磁盘存储装配所有服务
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := database.Open(sqlite.Open(filepath.Join(dir, "test.db")))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 后台任务与测试共用一个连接，避免 SQLite 写锁冲突
	sqlDB.SetMaxOpenConns(1)

	cfg := config.Defaults()
	cfg.JWT.Secret = "test-secret"
	cfg.Storage.Secret = "test-secret"
	cfg.Storage.PublicURL = "http://douBao.test"
	cfg.Ark.Stream = true
	cfg.Ark.PartialInterval = 0

	disk, err := storage.NewDiskStore(filepath.Join(dir, "blobs"), cfg.Storage.PublicURL, cfg.Storage.Secret)
	require.NoError(t, err)

	env := &testEnv{
		cfg:      cfg,
		store:    &countingStore{Store: disk},
		analyzer: &fakeAnalyzer{deltas: []string{"a", "b", "c"}},
		hub:      notify.NewHub(),
	}

	prevDB, prevCfg := database.DB, config.GlobalConfig
	database.DB = db
	config.GlobalConfig = cfg
	Setup(cfg, env.store, env.analyzer, env.hub)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = Jobs.Wait(ctx)
		now = time.Now
		database.DB = prevDB
		config.GlobalConfig = prevCfg
		_ = sqlDB.Close()
	})
	return env
}

// freezeTime 固定当前时间，返回推进时间的函数
func freezeTime(t *testing.T, start time.Time) func(d time.Duration) {
	t.Helper()
	var mu sync.Mutex
	current := start
	now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	t.Cleanup(func() { now = time.Now })
	return func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}
}

func getSession(t *testing.T, openid string) *model.Session {
	t.Helper()
	sess, err := Session.Get(openid)
	require.NoError(t, err)
	return sess
}

func waitJob(t *testing.T, h *Handle) error {
	t.Helper()
	select {
	case <-h.Done():
		return h.Err()
	case <-time.After(5 * time.Second):
		t.Fatalf("分析任务 %s 未在超时时间内结束", h.ID)
		return nil
	}
}
