package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/pkg/storage"
	"github.com/turmony/douBao/internal/service"
)

// GetBlob 通过临时下载链接读取图片
func GetBlob(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")

	r, err := service.Upload.OpenBlob(c.Request.Context(), c.Query("token"), path)
	if err != nil {
		blobError(c, err)
		return
	}
	defer r.Close()

	c.Header("Cache-Control", "private, max-age=300")
	c.Header("Content-Type", "image/jpeg")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, r); err != nil {
		logger.Warnf("发送图片失败: path=%s, err=%v", path, err)
	}
}

// PutBlob 通过临时上传链接写入图片
func PutBlob(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")

	data, err := readLimited(c.Request)
	if err != nil {
		blobError(c, err)
		return
	}

	fileID, err := service.Upload.PutBlob(c.Request.Context(), c.Query("token"), path, data)
	if err != nil {
		blobError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"fileID":  fileID,
	})
}

// blobError 临时链接是传输层接口，用 HTTP 状态码表达失败
func blobError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var sizeErr *service.SizeError
	switch {
	case errors.Is(err, storage.ErrInvalidToken):
		status = http.StatusForbidden
	case errors.Is(err, storage.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &sizeErr):
		status = http.StatusRequestEntityTooLarge
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("访问存储失败: %v", err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
