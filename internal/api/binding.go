package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/middleware"
	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/service"
)

type BindRequest struct {
	Code string `json:"code"`
}

// GenerateCode 为当前用户生成新的绑定码
func GenerateCode(c *gin.Context) {
	issueCode(c, false)
}

// RefreshCode 刷新绑定码，旧码立即失效
func RefreshCode(c *gin.Context) {
	issueCode(c, true)
}

func issueCode(c *gin.Context, refresh bool) {
	openid := middleware.OpenID(c)

	issue := service.Binding.Generate
	if refresh {
		issue = service.Binding.Refresh
	}
	binding, err := issue(c.Request.Context(), openid)
	if err != nil {
		logger.Errorf("生成绑定码失败: openid=%s, err=%v", openid, err)
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"code":       binding.Code,
		"expireTime": binding.ExpireTime.UnixMilli(),
	})
}

// Bind 电脑端校验绑定码
func Bind(c *gin.Context) {
	var req BindRequest
	if err := bindRequest(c, &req); err != nil {
		fail(c, err)
		return
	}

	binding, err := service.Binding.Bind(req.Code)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"openid":  binding.OpenID,
		"code":    binding.Code,
	})
}
