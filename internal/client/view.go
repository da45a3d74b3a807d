// Package client mirrors a user's session on the viewing side: it folds
// session snapshots into a history of analysed screenshots.
package client

import (
	"cmp"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/turmony/douBao/internal/model"
)

var statusTexts = map[string]string{
	model.SessionWaiting:    "等待截图上传",
	model.SessionUploading:  "截图上传中...",
	model.SessionProcessing: "正在分析图片...",
	model.SessionAnalyzing:  "正在分析图片...",
	model.SessionStreaming:  "正在生成回答...",
	model.SessionCompleted:  "分析完成",
	model.SessionError:      "处理失败",
}

// StatusText 会话状态对应的展示文案
func StatusText(status string) string {
	if text, ok := statusTexts[status]; ok {
		return text
	}
	return "状态: " + status
}

// Entry 历史记录中的一张截图及其回答
type Entry struct {
	ImageURL   string // 会话中的 fileID，作为记录的唯一键
	DisplayURL string
	Answer     string
	ErrorMsg   string
	StartedAt  time.Time
	WaitTime   string
	Streaming  bool
	Failed     bool
	Final      bool
	Superseded bool // 之后又上传了新的截图，这张不会再有结果
}

// View 客户端的本地状态
type View struct {
	Status     string
	StatusText string
	Tracking   string // 正在等待结果的 imageUrl
	StartedAt  time.Time
	History    []Entry // 按截图上传时间排序

	head snapshotKey
}

// snapshotKey 快照的先后顺序：版本号、截图上传时间、状态推进程度
type snapshotKey struct {
	version int64
	image   string
	rank    int
}

func keyOf(s model.Session) snapshotKey {
	return snapshotKey{version: s.Version, image: s.ImageURL, rank: statusRank[s.Status]}
}

func (k snapshotKey) less(o snapshotKey) bool {
	if k.version != o.version {
		return k.version < o.version
	}
	if c := compareImages(k.image, o.image); c != 0 {
		return c < 0
	}
	return k.rank < o.rank
}

var statusRank = map[string]int{
	model.SessionWaiting:    0,
	model.SessionUploading:  1,
	model.SessionProcessing: 2,
	model.SessionAnalyzing:  3,
	model.SessionStreaming:  4,
	model.SessionCompleted:  5,
	model.SessionError:      5,
}

// Reconcile 把一次会话快照合并进视图。以 imageUrl 作为键，已完成或失败的
// 记录不再改变；视图的状态只跟随最新的快照，因此重复或乱序送达的快照
// 得到的结果相同。
func Reconcile(v View, s model.Session, now time.Time) View {
	next := v
	next.History = append([]Entry(nil), v.History...)

	if s.ImageURL != "" {
		next.History = mergeEntry(next.History, s, now)
		markSuperseded(next.History)
	}

	k := keyOf(s)
	if k.less(v.head) {
		return next
	}
	next.head = k
	next.Status = s.Status
	next.Tracking = ""
	next.StartedAt = time.Time{}

	if s.ImageURL != "" {
		_, idx, _ := lo.FindIndexOf(next.History, func(e Entry) bool {
			return e.ImageURL == s.ImageURL
		})
		e := next.History[idx]
		switch {
		case e.Final && e.Failed:
			next.Status = model.SessionError
		case e.Final:
			next.Status = model.SessionCompleted
		case !e.Superseded:
			next.Tracking = e.ImageURL
			next.StartedAt = e.StartedAt
		}
	}
	next.StatusText = StatusText(next.Status)
	return next
}

func mergeEntry(history []Entry, s model.Session, now time.Time) []Entry {
	_, idx, found := lo.FindIndexOf(history, func(e Entry) bool {
		return e.ImageURL == s.ImageURL
	})
	if !found {
		idx = len(history)
		for i, e := range history {
			if compareImages(e.ImageURL, s.ImageURL) > 0 {
				idx = i
				break
			}
		}
		history = slices.Insert(history, idx, Entry{
			ImageURL:  s.ImageURL,
			StartedAt: now,
			Streaming: true,
		})
	}

	e := &history[idx]
	if e.Final {
		return history
	}

	switch s.Status {
	case model.SessionAnalyzing, model.SessionStreaming:
		// 两条推送路径可能乱序，只接受更长的中间结果
		if len(s.PartialAnswer) > len(e.Answer) {
			e.Answer = s.PartialAnswer
		}
	case model.SessionCompleted:
		e.Answer = s.Answer
		e.finish(now)
	case model.SessionError:
		e.Failed = true
		e.ErrorMsg = s.ErrorMsg
		e.finish(now)
	}
	return history
}

func (e *Entry) finish(now time.Time) {
	e.Streaming = false
	e.Superseded = false
	e.Final = true
	e.WaitTime = FormatWait(now.Sub(e.StartedAt))
}

// markSuperseded 除最新一张外，尚未出结果的记录都不会再更新
func markSuperseded(history []Entry) {
	for i := 0; i < len(history)-1; i++ {
		if !history[i].Final {
			history[i].Superseded = true
			history[i].Streaming = false
		}
	}
}

// compareImages 按文件名中的毫秒时间戳比较两张截图，时间戳相同或无法解析时按字符串比较
func compareImages(a, b string) int {
	if c := cmp.Compare(uploadedAt(a), uploadedAt(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// uploadedAt 从 <毫秒时间戳>_<随机串>.jpg 中取出时间戳
func uploadedAt(imageURL string) int64 {
	name := path.Base(imageURL)
	ms, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Elapsed 当前等待的时长，没有在等待时为 0
func (v View) Elapsed(now time.Time) time.Duration {
	if v.Tracking == "" || v.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(v.StartedAt)
}

// MissingDisplayURLs 尚未获取展示链接的记录
func (v View) MissingDisplayURLs() []string {
	return lo.FilterMap(v.History, func(e Entry, _ int) (string, bool) {
		return e.ImageURL, e.DisplayURL == ""
	})
}

// WithDisplayURL 为 imageURL 对应的记录设置展示链接
func (v View) WithDisplayURL(imageURL, displayURL string) View {
	next := v
	next.History = lo.Map(v.History, func(e Entry, _ int) Entry {
		if e.ImageURL == imageURL {
			e.DisplayURL = displayURL
		}
		return e
	})
	return next
}

// FormatWait 把等待时长格式化为 mm:ss
func FormatWait(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
