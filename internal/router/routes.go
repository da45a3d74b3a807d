package router

import (
	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/api"
	"github.com/turmony/douBao/internal/middleware"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine) {
	// 健康检查接口（不需要任何中间件）
	r.GET("/api/v1/health", api.HealthCheck)

	setupAPIRoutes(r)
}

// setupAPIRoutes 设置API路由
func setupAPIRoutes(r *gin.Engine) {
	apiGroup := r.Group("/api/v1")
	apiGroup.Use(middleware.Logger())
	apiGroup.Use(middleware.Recovery())
	apiGroup.Use(middleware.Cors())

	// 认证相关
	auth := apiGroup.Group("/auth")
	{
		auth.POST("/wx/login", api.WXLogin)
	}

	// 电脑端接口，以绑定码作为凭证
	apiGroup.POST("/bind", api.Bind)
	upload := apiGroup.Group("/upload")
	{
		upload.POST("", api.UploadScreenshot)
		upload.POST("/url", api.GetUploadURL)
		upload.POST("/storage", api.UploadToStorage)
	}

	// 临时链接，以 token 参数作为凭证
	blob := apiGroup.Group("/blob")
	{
		blob.GET("/*path", api.GetBlob)
		blob.PUT("/*path", api.PutBlob)
	}

	// 需要认证的路由
	authorized := apiGroup.Group("/")
	authorized.Use(middleware.JWT())
	{
		binding := authorized.Group("/binding")
		{
			binding.POST("/generate", api.GenerateCode)
			binding.POST("/refresh", api.RefreshCode)
		}

		user := authorized.Group("/user")
		{
			user.GET("/profile", api.GetUserProfile)
			user.PUT("/profile", api.UpdateUserProfile)
		}

		authorized.GET("/session", api.GetSession)
		authorized.GET("/session/watch", api.WatchSession)
		authorized.POST("/storage/temp-url", api.GetTempFileURL)
		authorized.GET("/jobs/:id", api.GetJob)
	}
}
