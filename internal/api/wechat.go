package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/service"
)

// 微信登录请求结构体
type WXLoginRequest struct {
	Code string `json:"code" binding:"required"`
}

// WXLogin 小程序登录，返回携带 openid 的 token
func WXLogin(c *gin.Context) {
	var req WXLoginRequest
	if err := bindRequest(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "参数错误",
		})
		return
	}

	user, token, err := service.WeChat.Login(c.Request.Context(), req.Code)
	if err != nil {
		logger.Errorf("微信登录失败: %v", err)
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"openid":  user.OpenID,
		"user": gin.H{
			"id":       user.ID,
			"nickname": user.Nickname,
		},
	})
}
