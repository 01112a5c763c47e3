/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2026-01-30 10:35:28
 * @LastEditTime: 2026-02-18 10:42:11
 * @LastEditors: 安知鱼
 */
// picnexus-server/cmd/server/app.go
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/anzhiyu-c/picnexus-server/internal/app/middleware"
	"github.com/anzhiyu-c/picnexus-server/internal/app/task"
	"github.com/anzhiyu-c/picnexus-server/internal/infra/router"
	"github.com/anzhiyu-c/picnexus-server/internal/infra/storage"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/event"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/version"
	"github.com/anzhiyu-c/picnexus-server/pkg/config"
	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	storage_handler "github.com/anzhiyu-c/picnexus-server/pkg/handler/storage"
	upload_handler "github.com/anzhiyu-c/picnexus-server/pkg/handler/upload"
	"github.com/anzhiyu-c/picnexus-server/pkg/service/uploader"
)

// App 结构体，用于封装应用的所有核心组件
type App struct {
	cfg         *config.Config
	engine      *gin.Engine
	scheduler   *task.Scheduler
	eventBus    *event.EventBus
	appVersion  string
	uploaderSvc uploader.IUploaderService
	mw          *middleware.Middleware
}

func (a *App) PrintBanner() {
	banner := `

      ██████╗ ██╗ ██████╗███╗   ██╗███████╗██╗  ██╗██╗   ██╗███████╗
      ██╔══██╗██║██╔════╝████╗  ██║██╔════╝╚██╗██╔╝██║   ██║██╔════╝
      ██████╔╝██║██║     ██╔██╗ ██║█████╗   ╚███╔╝ ██║   ██║███████╗
      ██╔═══╝ ██║██║     ██║╚██╗██║██╔══╝   ██╔██╗ ██║   ██║╚════██║
      ██║     ██║╚██████╗██║ ╚████║███████╗██╔╝ ██╗╚██████╔╝███████║
      ╚═╝     ╚═╝ ╚═════╝╚═╝  ╚═══╝╚══════╝╚═╝  ╚═╝ ╚═════╝ ╚══════╝

`
	log.Println(banner)
	log.Println("--------------------------------------------------------")
	log.Printf(" PicNexus Server - Version: %s", version.GetVersionString())
	log.Println("--------------------------------------------------------")
}

// NewApp 是应用的构造函数，它执行所有的初始化和依赖注入工作
func NewApp() (*App, func(), error) {
	// 在初始化早期获取版本信息
	appVersion := version.GetVersion()

	// --- Phase 1: 加载外部配置 ---
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// --- Phase 2: 初始化基础设施 ---
	// Redis 是可选的：未配置地址时去重缓存与进度快照自动降级到进程内存
	redisClient := newRedisClient(cfg)

	cleanup := func() {
		if redisClient != nil {
			log.Println("关闭 Redis 连接...")
			redisClient.Close()
		}
	}

	eventBus := event.NewEventBus()
	tracker := storage.NewSessionTracker()

	// 所有驱动共享一个 HTTP 客户端；单次请求的超时交给调用方的 context 控制
	httpClient := &http.Client{Timeout: 5 * time.Minute}

	// 驱动的进度上报通过事件总线转发，发布永不阻塞上传主流程
	progress := func(id string, p int, step string, stepIndex, totalSteps int) {
		eventBus.Publish(event.UploadProgress, event.ProgressPayload{
			ID:         id,
			Progress:   p,
			Total:      100,
			Step:       step,
			StepIndex:  stepIndex,
			TotalSteps: totalSteps,
		})
	}

	// --- Phase 3: 初始化上传驱动并注册 ---
	tosProvider := storage.NewTOSProvider(httpClient, progress, tracker)

	registry := storage.NewRegistry()
	registry.Register(constant.ProviderTOS, tosProvider)
	registry.Register(constant.ProviderS3, storage.NewS3Provider(progress))
	registry.Register(constant.ProviderGitHub, storage.NewGithubProvider(httpClient, progress))
	registry.Register(constant.ProviderSMMS, storage.NewSmmsProvider(httpClient, progress))
	registry.Register(constant.ProviderImgur, storage.NewImgurProvider(httpClient, progress))

	// --- Phase 4: 初始化业务逻辑层 ---
	dedupeCache := uploader.NewCache(redisClient)
	uploaderSvc := uploader.NewService(registry, eventBus, dedupeCache)

	// --- Phase 5: 初始化表现层 (Handlers) 与路由 ---
	mw := middleware.NewMiddleware([]byte(cfg.GetString(config.KeyJWTSecret)))
	uploadHandler := upload_handler.NewUploadHandler(uploaderSvc)
	storageHandler := storage_handler.NewStorageHandler(uploaderSvc)
	appRouter := router.NewRouter(uploadHandler, storageHandler, mw)

	// --- Phase 6: 初始化后台任务调度器 ---
	scheduler := task.NewScheduler(tosProvider, tracker)

	// --- Phase 7: 配置 Gin 引擎 ---
	if cfg.GetBool(config.KeyServerDebug) {
		gin.SetMode(gin.DebugMode)
		log.Println("运行模式: Debug (Gin 将打印详细路由日志)")
	} else {
		gin.SetMode(gin.ReleaseMode)
		log.Println("运行模式: Release (Gin 启动日志已禁用)")
	}

	engine := gin.Default()
	err = engine.SetTrustedProxies([]string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"})
	if err != nil {
		return nil, cleanup, fmt.Errorf("设置信任代理失败: %w", err)
	}
	engine.ForwardedByClientIP = true
	appRouter.Setup(engine)

	app := &App{
		cfg:         cfg,
		engine:      engine,
		scheduler:   scheduler,
		eventBus:    eventBus,
		appVersion:  appVersion,
		uploaderSvc: uploaderSvc,
		mw:          mw,
	}

	return app, cleanup, nil
}

// newRedisClient 按配置创建 Redis 客户端，未配置地址时返回 nil。
// 启动时只做一次 Ping 探测，失败时降级而不是中断启动。
func newRedisClient(cfg *config.Config) *redis.Client {
	addr := cfg.GetString(config.KeyRedisAddr)
	if addr == "" {
		log.Println("未配置 Redis，去重缓存与进度快照将使用进程内存。")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.GetString(config.KeyRedisPassword),
		DB:       cfg.GetInt(config.KeyRedisDB),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("警告: Redis 连接失败: %v，将降级到进程内存。", err)
		client.Close()
		return nil
	}

	log.Printf("✅ Redis 连接成功: %s", addr)
	return client
}

func (a *App) Config() *config.Config {
	return a.cfg
}

func (a *App) Engine() *gin.Engine {
	return a.engine
}

func (a *App) Middleware() *middleware.Middleware {
	return a.mw
}

// UploaderService 返回上传服务实例
func (a *App) UploaderService() uploader.IUploaderService {
	return a.uploaderSvc
}

// EventBus 返回事件总线，用于发布和订阅事件
func (a *App) EventBus() *event.EventBus {
	return a.eventBus
}

// Version 返回应用的版本号
func (a *App) Version() string {
	return a.appVersion
}

func (a *App) Run() error {
	a.scheduler.RegisterJobs()
	a.scheduler.Start()

	port := a.cfg.GetString(config.KeyServerPort)
	if port == "" {
		port = "8091"
	}
	fmt.Printf("应用程序启动成功，正在监听端口: %s\n", port)

	return a.engine.Run(":" + port)
}

func (a *App) Stop() {
	if a.scheduler != nil {
		a.scheduler.Stop()
		log.Println("任务调度器已停止。")
	}
	if a.eventBus != nil {
		a.eventBus.Shutdown()
	}
}
