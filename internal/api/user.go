package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/middleware"
	"github.com/turmony/douBao/internal/service"
)

type UpdateProfileRequest struct {
	Nickname string `json:"nickname" binding:"max=64"`
}

func GetUserProfile(c *gin.Context) {
	user, err := service.User.GetProfile(middleware.OpenID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"id":       user.ID,
			"openid":   user.OpenID,
			"nickname": user.Nickname,
		},
	})
}

func UpdateUserProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := bindRequest(c, &req); err != nil {
		fail(c, err)
		return
	}

	if err := service.User.UpdateProfile(middleware.OpenID(c), req.Nickname); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "更新成功",
	})
}
