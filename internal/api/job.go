package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/middleware"
	"github.com/turmony/douBao/internal/service"
)

// GetJob 查询分析任务，只能查看自己的任务
func GetJob(c *gin.Context) {
	job, err := service.Jobs.Get(middleware.OpenID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job":     job,
	})
}
