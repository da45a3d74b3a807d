package model

import "time"

const (
	SessionWaiting    = "waiting"
	SessionUploading  = "uploading"
	SessionProcessing = "processing"
	SessionAnalyzing  = "analyzing"
	SessionStreaming  = "streaming"
	SessionCompleted  = "completed"
	SessionError      = "error"
)

// Session 每个用户唯一的一条会话记录，被上传和分析流程反复覆盖
type Session struct {
	ID            uint      `gorm:"primarykey" json:"-"`
	OpenID        string    `gorm:"size:64;uniqueIndex" json:"openid"`
	Code          string    `gorm:"size:6;index" json:"code"`
	ImageURL      string    `gorm:"size:255" json:"imageUrl"`
	Answer        string    `gorm:"type:text" json:"answer"`
	PartialAnswer string    `gorm:"type:text" json:"partialAnswer"`
	Status        string    `gorm:"size:20" json:"status"`
	ErrorMsg      string    `gorm:"size:1024" json:"errorMsg"`
	Version       int64     `json:"version"`
	UpdateTime    time.Time `json:"updateTime"`
}

// Terminal 会话是否处于完成或失败状态
func (s *Session) Terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionError
}
