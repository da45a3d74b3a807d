package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/middleware"
	"github.com/turmony/douBao/internal/service"
)

type TempURLRequest struct {
	FileID string `json:"fileID" binding:"required"`
}

// GetTempFileURL 为用户自己的截图生成临时展示链接
func GetTempFileURL(c *gin.Context) {
	var req TempURLRequest
	if err := bindRequest(c, &req); err != nil {
		fail(c, err)
		return
	}

	u, ttl, err := service.Upload.TempURL(middleware.OpenID(c), req.FileID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"fileID":  req.FileID,
		"tempUrl": u,
		"maxAge":  int64(ttl.Seconds()),
	})
}
