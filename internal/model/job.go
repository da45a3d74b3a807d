package model

import "time"

const (
	JobPending    = "pending"
	JobRunning    = "running"
	JobDone       = "done"
	JobFailed     = "failed"
	JobSuperseded = "superseded" // 分析期间用户又上传了新图片
)

// AnalysisJob 一次后台图片分析任务
type AnalysisJob struct {
	ID         string     `gorm:"size:36;primarykey" json:"id"`
	OpenID     string     `gorm:"size:64;index" json:"openid"`
	FileID     string     `gorm:"size:255" json:"fileID"`
	Mode       string     `gorm:"size:16" json:"mode"` // stream, complete
	Status     string     `gorm:"size:20" json:"status"`
	Error      string     `gorm:"size:1024" json:"error"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt"`
}
