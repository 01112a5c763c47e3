package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/anzhiyu-c/picnexus-server/internal/infra/storage"
)

// MultipartCleanupJob 定义孤儿分片会话清理任务。
// 上传序列中途失败且现场中止也失败时，远端会残留已初始化的分片会话，
// 本任务定期对超龄会话补发签名中止调用。
type MultipartCleanupJob struct {
	provider *storage.TOSProvider
	tracker  *storage.SessionTracker
	ttl      time.Duration
	logger   *slog.Logger
}

// NewMultipartCleanupJob 创建一个新的孤儿会话清理任务。
func NewMultipartCleanupJob(provider *storage.TOSProvider, tracker *storage.SessionTracker, ttl time.Duration, logger *slog.Logger) *MultipartCleanupJob {
	return &MultipartCleanupJob{
		provider: provider,
		tracker:  tracker,
		ttl:      ttl,
		logger:   logger,
	}
}

// Run 执行一次清理。
// 中止失败的会话保留在追踪器中，下一轮继续尝试；STS 凭证过期导致的
// 永久失败也只会多打几行日志，不会影响任何在途上传。
func (j *MultipartCleanupJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stale := j.tracker.Stale(time.Now().Add(-j.ttl))
	if len(stale) == 0 {
		j.logger.Info("No stale multipart sessions to clean up")
		return
	}

	j.logger.Info("Cleaning up stale multipart sessions", slog.Int("count", len(stale)))

	aborted := 0
	for _, session := range stale {
		if err := j.provider.AbortSession(ctx, session); err != nil {
			j.logger.Warn("Failed to abort stale session",
				slog.String("upload_id", session.UploadID),
				slog.String("key", session.Key),
				slog.Any("error", err),
			)
			continue
		}
		aborted++
	}

	j.logger.Info("Multipart cleanup finished",
		slog.Int("stale", len(stale)),
		slog.Int("aborted", aborted),
		slog.Int("remaining", j.tracker.Len()),
	)
}

// Name 返回任务名称。
func (j *MultipartCleanupJob) Name() string {
	return "MultipartCleanupJob"
}
