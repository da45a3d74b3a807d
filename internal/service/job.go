package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/logger"
)

var Jobs = new(JobService)

// JobService 在后台执行分析任务，上传接口不等待结果
type JobService struct {
	wg sync.WaitGroup
}

// Handle 一个已派发任务的完成通知
type Handle struct {
	ID   string
	done chan struct{}
	err  error
}

// Done 任务结束时关闭
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err 任务结束后的结果，Done 关闭前调用返回 nil
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Submit 记录任务并派发到协程池
func (s *JobService) Submit(openid, fileID string) (*Handle, error) {
	job := &model.AnalysisJob{
		ID:        uuid.New().String(),
		OpenID:    openid,
		FileID:    fileID,
		Mode:      Analysis.Mode(),
		Status:    model.JobPending,
		CreatedAt: now(),
	}
	if err := database.DB.Create(job).Error; err != nil {
		return nil, errors.Wrap(err, "创建分析任务失败")
	}

	h := &Handle{ID: job.ID, done: make(chan struct{})}
	s.wg.Add(1)
	gopool.Go(func() {
		defer s.wg.Done()
		defer close(h.done)
		h.err = s.run(job)
	})
	return h, nil
}

func (s *JobService) run(job *model.AnalysisJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Errorf("分析任务崩溃: job=%s, %v", job.ID, r)
			_ = Analysis.fail(context.Background(), job.OpenID, job.FileID, err)
			s.finish(job, model.JobFailed, err)
		}
	}()

	started := now()
	if e := database.DB.Model(job).Updates(map[string]interface{}{
		"status":     model.JobRunning,
		"started_at": &started,
	}).Error; e != nil {
		logger.Warnf("更新任务状态失败: job=%s, err=%v", job.ID, e)
	}

	err = Analysis.Run(context.Background(), job.OpenID, job.FileID)
	switch {
	case err == nil:
		s.finish(job, model.JobDone, nil)
	case errors.Is(err, ErrSuperseded):
		s.finish(job, model.JobSuperseded, err)
	default:
		s.finish(job, model.JobFailed, err)
	}
	return err
}

func (s *JobService) finish(job *model.AnalysisJob, status string, cause error) {
	finished := now()
	fields := map[string]interface{}{
		"status":      status,
		"finished_at": &finished,
		"error":       "",
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	if err := database.DB.Model(job).Updates(fields).Error; err != nil {
		logger.Warnf("更新任务状态失败: job=%s, err=%v", job.ID, err)
	}
}

// Get 查询用户自己的任务
func (s *JobService) Get(openid, id string) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := database.DB.Where("id = ? AND open_id = ?", id, openid).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "查询任务失败")
	}
	return &job, nil
}

// Wait 等待所有在途任务结束，用于优雅退出
func (s *JobService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
