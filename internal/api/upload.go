package api

import (
	"encoding/base64"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/service"
)

type UploadRequest struct {
	Code        string `json:"code"`
	FileID      string `json:"fileID"`
	ImageBase64 string `json:"imageBase64" binding:"omitempty,base64"`
}

type UploadURLRequest struct {
	Code string `json:"code"`
}

type StorageUploadRequest struct {
	Code        string `json:"code"`
	CloudPath   string `json:"cloudPath"`
	FileContent string `json:"fileContent" binding:"omitempty,base64"`
}

// UploadScreenshot 接收截图，支持二进制流、multipart 表单和 JSON 三种方式
func UploadScreenshot(c *gin.Context) {
	in, err := readUpload(c)
	if err != nil {
		logger.Warnf("上传请求解析失败: %v", err)
		fail(c, err)
		return
	}

	result, err := service.Upload.Screenshot(c.Request.Context(), *in)
	if err != nil {
		logger.Errorf("上传截图失败: %v", err)
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "上传成功，正在分析中",
		"fileID":  result.FileID,
		"jobId":   result.JobID,
	})
}

func readUpload(c *gin.Context) (*service.UploadInput, error) {
	switch c.ContentType() {
	case "application/octet-stream", "image/jpeg", "image/png":
		code := c.Query("code")
		if code == "" {
			return nil, service.ErrCodeMissing
		}
		data, err := readLimited(c.Request)
		if err != nil {
			return nil, err
		}
		return &service.UploadInput{Code: code, Image: data}, nil

	case "multipart/form-data":
		code := c.PostForm("code")
		if code == "" {
			return nil, service.ErrCodeMissing
		}
		fh, err := c.FormFile("image")
		if err != nil {
			return nil, service.ErrImageMissing
		}
		if err := service.Upload.CheckSize(fh.Size); err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, errors.Wrap(err, "读取上传文件失败")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, errors.Wrap(err, "读取上传文件失败")
		}
		return &service.UploadInput{Code: code, Image: data}, nil

	default:
		var req UploadRequest
		if err := bindRequest(c, &req); err != nil {
			return nil, err
		}
		in := &service.UploadInput{Code: req.Code, FileID: req.FileID}
		if req.ImageBase64 != "" {
			data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
			if err != nil {
				return nil, errors.Wrap(err, "图片数据不是有效的base64")
			}
			in.Image = data
		}
		return in, nil
	}
}

// readLimited 读取请求体，超过大小上限时不再继续读
func readLimited(r *http.Request) ([]byte, error) {
	if err := service.Upload.CheckSize(r.ContentLength); err != nil {
		return nil, err
	}
	limit := service.Upload.MaxSize()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "读取请求体失败")
	}
	if err := service.Upload.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}

// GetUploadURL 返回直传云存储的临时上传链接
func GetUploadURL(c *gin.Context) {
	var req UploadURLRequest
	if err := bindRequest(c, &req); err != nil {
		fail(c, err)
		return
	}
	if req.Code == "" {
		fail(c, service.ErrCodeMissing)
		return
	}

	grant, err := service.Upload.Grant(c.Request.Context(), req.Code)
	if err != nil {
		logger.Errorf("获取上传链接失败: %v", err)
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"uploadUrl": grant.UploadURL,
		"fileID":    grant.FileID,
		"cloudPath": grant.CloudPath,
		"openid":    grant.OpenID,
	})
}

// UploadToStorage 把 base64 文件内容写入云存储
func UploadToStorage(c *gin.Context) {
	var req StorageUploadRequest
	if err := bindRequest(c, &req); err != nil {
		var sizeErr *service.SizeError
		if errors.As(err, &sizeErr) {
			sizeErr.File = true
		}
		fail(c, err)
		return
	}

	var content []byte
	if req.FileContent != "" {
		data, err := base64.StdEncoding.DecodeString(req.FileContent)
		if err != nil {
			fail(c, errors.Wrap(err, "文件内容不是有效的base64"))
			return
		}
		content = data
	}

	fileID, err := service.Upload.StoreFile(c.Request.Context(), req.Code, req.CloudPath, content)
	if err != nil {
		logger.Errorf("上传到云存储失败: %v", err)
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"fileID":  fileID,
	})
}
