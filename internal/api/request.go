package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/service"
)

var errBadRequest = errors.New("请求格式错误")

// maxJSONBody base64 编码后的 10MB 图片加上字段
const maxJSONBody = 16 * 1024 * 1024

// bindRequest 解析 JSON 请求，兼容 HTTP 触发器的 {"body": ...} 包装，
// body 既可能是对象也可能是 JSON 字符串
func bindRequest(c *gin.Context, obj interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxJSONBody+1))
	if err != nil {
		return errBadRequest
	}
	if len(raw) > maxJSONBody {
		// 读掉剩余部分，让客户端能收到响应
		_, _ = io.Copy(io.Discard, io.LimitReader(c.Request.Body, maxJSONBody))
		return bodyTooLarge(c.Request.ContentLength, int64(len(raw)))
	}

	payload, err := unwrapEnvelope(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, obj); err != nil {
		return errBadRequest
	}
	if err := binding.Validator.ValidateStruct(obj); err != nil {
		logger.Debugf("请求参数校验失败: %v", err)
		return invalidParam(err)
	}
	return nil
}

// bodyTooLarge 按 base64 解码后的大小估算图片大小
func bodyTooLarge(contentLength, read int64) error {
	return &service.SizeError{
		Size:  max(contentLength, read) * 3 / 4,
		Limit: service.Upload.MaxSize(),
	}
}

// invalidParam 只取第一个校验失败的字段生成提示
func invalidParam(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, "参数错误")
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("参数错误: 缺少%s", fe.Field())
	case "base64":
		return fmt.Errorf("参数错误: %s不是有效的base64", fe.Field())
	case "max":
		return fmt.Errorf("参数错误: %s长度不能超过%s", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("参数错误: %s", fe.Field())
	}
}

func unwrapEnvelope(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, errBadRequest
	}

	body := gjson.GetBytes(raw, "body")
	switch {
	case !body.Exists():
		return raw, nil
	case body.Type == gjson.String:
		if !gjson.Valid(body.Str) {
			return nil, errBadRequest
		}
		return []byte(body.Str), nil
	case body.IsObject():
		return []byte(body.Raw), nil
	default:
		return nil, errBadRequest
	}
}

// fail 领域错误统一以 200 + success=false 返回，客户端只看 success 字段
func fail(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
