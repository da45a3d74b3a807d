package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/logger"
)

// Source 会话的两条送达路径以及展示链接的获取
type Source interface {
	Session(ctx context.Context) (*model.Session, error)
	Watch(ctx context.Context, fn func(*model.Session)) error
	TempURL(ctx context.Context, fileID string) (string, error)
}

// Watcher 同时运行推送订阅和定时轮询，两者都经过 Reconcile 合并
type Watcher struct {
	src      Source
	poll     time.Duration
	now      func() time.Time
	onChange func(View)

	mu   sync.Mutex
	view View
}

func NewWatcher(src Source, poll time.Duration, onChange func(View)) *Watcher {
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &Watcher{src: src, poll: poll, now: time.Now, onChange: onChange}
}

// Run 阻塞直到 ctx 结束，结束时两条路径都会停止
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.subscribe(ctx) })
	g.Go(func() error { return w.pollLoop(ctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// subscribe 断线后等一个轮询周期再重连，期间由轮询兜底
func (w *Watcher) subscribe(ctx context.Context) error {
	for {
		err := w.src.Watch(ctx, func(s *model.Session) { w.Apply(ctx, s) })
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Warnf("会话订阅中断: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.poll):
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		w.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) {
	s, err := w.src.Session(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("轮询会话失败: %v", err)
		}
		return
	}
	w.Apply(ctx, s)
}

// Apply 合并一次快照，并为新记录获取展示链接
func (w *Watcher) Apply(ctx context.Context, s *model.Session) {
	w.mu.Lock()
	w.view = Reconcile(w.view, *s, w.now())
	missing := w.view.MissingDisplayURLs()
	w.mu.Unlock()

	for _, fileID := range missing {
		u, err := w.src.TempURL(ctx, fileID)
		if err != nil {
			logger.Warnf("获取图片链接失败: fileID=%s, err=%v", fileID, err)
			continue
		}
		w.mu.Lock()
		w.view = w.view.WithDisplayURL(fileID, u)
		w.mu.Unlock()
	}

	if w.onChange != nil {
		w.onChange(w.View())
	}
}

// View 当前视图的副本
func (w *Watcher) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := w.view
	v.History = append([]Entry(nil), w.view.History...)
	return v
}
