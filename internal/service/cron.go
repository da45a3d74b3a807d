package service

import (
	"sync"
	"time"

	"github.com/turmony/douBao/internal/pkg/logger"
)

// CronService 定时任务服务
type CronService struct {
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

var Cron = &CronService{
	interval: time.Minute,
	stopChan: make(chan struct{}),
}

// Start 启动定时任务
func (s *CronService) Start() {
	go s.sweepExpiredBindings()
}

// Stop 停止定时任务
func (s *CronService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// sweepExpiredBindings 校验时已经会惰性过期，这里只是让库里的状态尽快一致
func (s *CronService) sweepExpiredBindings() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := Binding.ExpireStale()
			if err != nil {
				logger.Errorf("清理过期绑定码失败: %v", err)
				continue
			}
			if n > 0 {
				logger.Infof("已将 %d 个绑定码标记为过期", n)
			}

		case <-s.stopChan:
			return
		}
	}
}
