package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/ark"
	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/pkg/storage"
)

// Analyzer 对话补全接口
type Analyzer interface {
	Complete(ctx context.Context, imageURL string) (string, error)
	Stream(ctx context.Context, imageURL string, onDelta func(string) error) (string, error)
}

var Analysis = &AnalysisService{
	stream:          true,
	timeout:         180 * time.Second,
	streamTimeout:   120 * time.Second,
	partialInterval: 500 * time.Millisecond,
	downloadTTL:     10 * time.Minute,
}

type AnalysisService struct {
	client          Analyzer
	store           storage.Store
	stream          bool
	inlineImage     bool
	timeout         time.Duration
	streamTimeout   time.Duration
	partialInterval time.Duration
	downloadTTL     time.Duration
}

// Mode 当前调用模式
func (s *AnalysisService) Mode() string {
	if s.stream {
		return "stream"
	}
	return "complete"
}

// Run 分析一张已上传的图片，结果写回会话
func (s *AnalysisService) Run(ctx context.Context, openid, fileID string) error {
	logger.Infof("开始分析图片: openid=%s, fileID=%s, mode=%s", openid, fileID, s.Mode())
	start := time.Now()

	imageURL, err := s.imageURL(ctx, fileID)
	if err != nil {
		return s.fail(ctx, openid, fileID, err)
	}

	if err := Session.UpdateForImage(ctx, openid, fileID, map[string]interface{}{
		"status": model.SessionAnalyzing,
	}); err != nil {
		return s.fail(ctx, openid, fileID, err)
	}

	var answer string
	if s.stream {
		callCtx, cancel := context.WithTimeout(ctx, s.streamTimeout)
		answer, err = s.runStream(callCtx, openid, fileID, imageURL)
		cancel()
	} else {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		answer, err = s.client.Complete(callCtx, imageURL)
		cancel()
	}
	if err != nil {
		return s.fail(ctx, openid, fileID, err)
	}

	logger.Infof("API响应完成，耗时: %.1f 秒，回答长度: %d", time.Since(start).Seconds(), len(answer))

	err = Session.UpdateForImage(ctx, openid, fileID, map[string]interface{}{
		"answer":         answer,
		"partial_answer": "",
		"status":         model.SessionCompleted,
		"error_msg":      "",
	})
	if err != nil {
		return s.fail(ctx, openid, fileID, err)
	}
	return nil
}

func (s *AnalysisService) runStream(ctx context.Context, openid, fileID, imageURL string) (string, error) {
	var (
		acc     string
		started bool
		gate    = &throttle{interval: s.partialInterval, now: now}
	)

	onDelta := func(delta string) error {
		acc += delta
		fields := map[string]interface{}{"partial_answer": acc}
		if !started {
			fields["status"] = model.SessionStreaming
			started = true
			gate.Allow()
		} else if !gate.Allow() {
			return nil
		}

		err := Session.UpdateForImage(ctx, openid, fileID, fields)
		if errors.Is(err, ErrSuperseded) {
			return err
		}
		if err != nil {
			// 中间结果写失败不影响最终结果
			logger.Warnf("更新流式答案失败: %v", err)
		}
		return nil
	}

	return s.client.Stream(ctx, imageURL, onDelta)
}

// fail 把错误写回会话，写失败只记录日志
func (s *AnalysisService) fail(ctx context.Context, openid, fileID string, cause error) error {
	if errors.Is(cause, ErrSuperseded) {
		logger.Infof("分析结果已过时，放弃写入: openid=%s, fileID=%s", openid, fileID)
		return ErrSuperseded
	}

	msg := DescribeError(cause)
	logger.Errorf("分析失败: openid=%s, fileID=%s, err=%v", openid, fileID, cause)

	err := Session.UpdateForImage(ctx, openid, fileID, map[string]interface{}{
		"status":         model.SessionError,
		"error_msg":      msg,
		"partial_answer": "",
	})
	if err != nil && !errors.Is(err, ErrSuperseded) {
		logger.Errorf("保存错误状态失败: %v", err)
	}
	return cause
}

func (s *AnalysisService) imageURL(ctx context.Context, fileID string) (string, error) {
	if s.inlineImage {
		r, err := s.store.Open(ctx, fileID)
		if err != nil {
			return "", errors.Wrap(err, "读取图片失败")
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return "", errors.Wrap(err, "读取图片失败")
		}
		return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
	}

	u, err := s.store.TempURL(fileID, s.downloadTTL)
	if err != nil {
		return "", errors.Wrap(err, "获取图片链接失败")
	}
	return u, nil
}

// DescribeError 把错误转换成展示给用户的文案
func DescribeError(err error) string {
	var statusErr *ark.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("分析失败: API错误 %d", statusErr.Code)
	case errors.Is(err, ark.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "分析失败: API请求超时"
	case err == nil || err.Error() == "":
		return "分析失败: 未知错误"
	default:
		return "分析失败: " + err.Error()
	}
}

// throttle 控制流式答案的写库频率
type throttle struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func (t *throttle) Allow() bool {
	n := t.now()
	if t.last.IsZero() || n.Sub(t.last) >= t.interval {
		t.last = n
		return true
	}
	return false
}
