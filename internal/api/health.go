package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/service"
)

// HealthCheck 数据库不可用时返回 503，同时给出当前的分析调用模式
func HealthCheck(c *gin.Context) {
	sqlDB, err := database.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		logger.Errorf("健康检查失败: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"analysis": service.Analysis.Mode(),
	})
}
