package api

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/middleware"
	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/service"
)

// PingInterval SSE 保活间隔
var PingInterval = 15 * time.Second

var watchers = struct {
	sync.Mutex
	done chan struct{}
}{done: make(chan struct{})}

func watchDone() <-chan struct{} {
	watchers.Lock()
	defer watchers.Unlock()
	return watchers.done
}

// CloseWatchers 断开当前所有会话推送连接，服务关闭时调用；之后建立的连接不受影响
func CloseWatchers() {
	watchers.Lock()
	defer watchers.Unlock()
	close(watchers.done)
	watchers.done = make(chan struct{})
}

// GetSession 获取当前用户的会话
func GetSession(c *gin.Context) {
	sess, err := service.Session.Get(middleware.OpenID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": sess,
	})
}

// WatchSession 以 SSE 推送会话变化，先推送一次当前状态
func WatchSession(c *gin.Context) {
	openid := middleware.OpenID(c)
	ctx := c.Request.Context()
	closing := watchDone()

	updates, cancel, err := service.Session.Subscribe(ctx, openid)
	if err != nil {
		logger.Errorf("订阅会话失败: openid=%s, err=%v", openid, err)
		fail(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if sess, err := service.Session.Get(openid); err == nil {
		c.SSEvent("session", sess)
	}
	c.Writer.Flush()

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-closing:
			return false
		case sess, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("session", sess)
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", t.UnixMilli())
			return true
		}
	})
}
