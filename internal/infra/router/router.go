/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2026-01-30 11:08:27
 * @LastEditTime: 2026-02-17 16:44:50
 * @LastEditors: 安知鱼
 */
// picnexus-server/internal/infra/router/router.go
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/picnexus-server/internal/app/middleware"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/version"
	storage_handler "github.com/anzhiyu-c/picnexus-server/pkg/handler/storage"
	upload_handler "github.com/anzhiyu-c/picnexus-server/pkg/handler/upload"
	"github.com/anzhiyu-c/picnexus-server/pkg/response"
)

// NoCacheMiddleware 全局反缓存中间件，确保所有API响应都不会被CDN缓存
func NoCacheMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate, private, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Header("X-Content-Type-Options", "nosniff")

		c.Next()
	})
}

// Router 封装了应用的所有路由和其依赖的处理器。
type Router struct {
	uploadHandler  *upload_handler.UploadHandler
	storageHandler *storage_handler.StorageHandler
	middleware     *middleware.Middleware
}

// NewRouter 是 Router 的构造函数。
func NewRouter(
	uploadHandler *upload_handler.UploadHandler,
	storageHandler *storage_handler.StorageHandler,
	mw *middleware.Middleware,
) *Router {
	return &Router{
		uploadHandler:  uploadHandler,
		storageHandler: storageHandler,
		middleware:     mw,
	}
}

// Setup 注册全部路由。
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Cors())

	api := engine.Group("/api")
	api.Use(NoCacheMiddleware())

	// 健康检查与版本信息不需要认证
	api.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"version": version.Version}, "ok")
	})

	// 上传接口：认证 + 每 IP 限速
	uploadGroup := api.Group("/upload")
	uploadGroup.Use(r.middleware.JWTAuth(), middleware.CustomRateLimit(60, 20))
	{
		uploadGroup.POST("/:provider", r.uploadHandler.Upload)
		uploadGroup.GET("/progress/:id", r.uploadHandler.Progress)
	}

	// 对象管理接口：需要管理权限
	storageGroup := api.Group("/storage")
	storageGroup.Use(r.middleware.JWTAuth(), r.middleware.ManageAuth())
	{
		storageGroup.POST("/test", r.storageHandler.TestConnection)
		storageGroup.GET("/objects", r.storageHandler.ListObjects)
		storageGroup.DELETE("/object", r.storageHandler.DeleteObject)
		storageGroup.POST("/objects/delete", r.storageHandler.DeleteObjects)
	}
}
