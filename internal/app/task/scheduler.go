/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2026-01-30 14:18:22
 * @LastEditTime: 2026-02-17 17:05:33
 * @LastEditors: 安知鱼
 */
package task

import (
	"log/slog"
	"os"
	"time"

	"github.com/anzhiyu-c/picnexus-server/internal/infra/storage"

	"github.com/robfig/cron/v3"
)

// 孤儿会话的判定年龄：初始化后超过该时长仍未完成的分片会话会被中止。
const staleSessionTTL = 2 * time.Hour

// Scheduler 封装了 cron 实例和其依赖。
// 它是整个定时任务模块的核心协调者，负责任务的注册、启动和停止。
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	// 在这里注入所有任务可能需要的依赖
	tosProvider *storage.TOSProvider
	tracker     *storage.SessionTracker
}

// NewScheduler 是 Scheduler 的构造函数。
func NewScheduler(tosProvider *storage.TOSProvider, tracker *storage.SessionTracker) *Scheduler {
	// 1. 创建一个 slog.Logger 实例，并为其添加一个固定的 "system":"cron" 属性。
	slogHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(slogHandler).With("system", "cron")

	// 2. 创建一个新的 cron 调度器实例，并将 logger 传递给装饰器。
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(
			NewPanicRecoveryWrapper(logger),
			NewLoggingWrapper(logger),
			cron.DelayIfStillRunning(cron.DefaultLogger),
		),
	)

	return &Scheduler{
		cron:        c,
		logger:      logger,
		tosProvider: tosProvider,
		tracker:     tracker,
	}
}

// RegisterJobs 在调度器中注册所有定义好的定时任务。
func (s *Scheduler) RegisterJobs() {
	s.logger.Info("Registering all periodic jobs...")

	// --- 任务: 清理孤儿分片上传会话，每 30 分钟一次 ---
	cleanupJob := NewMultipartCleanupJob(s.tosProvider, s.tracker, staleSessionTTL, s.logger)

	_, err := s.cron.AddJob("0 */30 * * * *", cleanupJob)
	if err != nil {
		s.logger.Error("Failed to add 'MultipartCleanupJob'", slog.Any("error", err))
		os.Exit(1)
	}
	s.logger.Info("-> Successfully registered 'MultipartCleanupJob'", "schedule", "every 30 minutes")

	s.logger.Info("All periodic jobs registered.")
}

// Start 启动 cron 调度器。
func (s *Scheduler) Start() {
	s.logger.Info("Cron scheduler started.")
	s.cron.Start()
}

// Stop 优雅地停止 cron 调度器。
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler gracefully stopped.")
}
