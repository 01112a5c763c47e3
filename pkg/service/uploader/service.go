/*
 * @Description: 上传编排服务：驱动分发、秒传去重、进度事件与对象管理
 * @Author: 安知鱼
 * @Date: 2026-01-28 15:01:19
 * @LastEditTime: 2026-02-17 09:32:08
 * @LastEditors: 安知鱼
 */
package uploader

import (
	"context"
	"log"

	"github.com/anzhiyu-c/picnexus-server/internal/infra/storage"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/event"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/utils"
	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
	"github.com/google/uuid"
)

// IUploaderService 定义了上传编排服务的能力。
type IUploaderService interface {
	// NewUploadID 为一次上传分配任务 ID，进度事件按它区分。
	NewUploadID() string
	// Upload 将文件分发给策略指定的驱动执行上传。
	Upload(ctx context.Context, id string, provider constant.ProviderType, fileName string, data []byte, policy *model.UploadPolicy, auth map[string]string) (*storage.UploadResult, error)
	// Progress 返回指定任务的最近一条进度快照。
	Progress(ctx context.Context, id string) (event.ProgressPayload, bool)
	// TestConnection 验证策略凭证的有效性，不写入数据。
	TestConnection(ctx context.Context, policy *model.UploadPolicy) (string, error)
	// ListObjects 列举远端对象（仅对象存储类驱动支持）。
	ListObjects(ctx context.Context, policy *model.UploadPolicy, prefix, token string, maxKeys int) (*storage.ListResult, error)
	// DeleteObject 删除单个远端对象。
	DeleteObject(ctx context.Context, policy *model.UploadPolicy, key string) error
	// DeleteObjects 批量删除远端对象。
	DeleteObjects(ctx context.Context, policy *model.UploadPolicy, keys []string) (*storage.BatchDeleteResult, error)
}

// Service 是 IUploaderService 的默认实现。
// 驱动注册表、事件总线与缓存全部由构造注入。
type Service struct {
	registry *storage.Registry
	bus      *event.EventBus
	cache    *Cache
}

var _ IUploaderService = (*Service)(nil)

// NewService 创建上传编排服务，并订阅进度事件以维护快照。
func NewService(registry *storage.Registry, bus *event.EventBus, cache *Cache) *Service {
	s := &Service{registry: registry, bus: bus, cache: cache}
	if bus != nil && cache != nil {
		bus.Subscribe(event.UploadProgress, func(payload interface{}) {
			if p, ok := payload.(event.ProgressPayload); ok {
				cache.StoreProgress(p)
			}
		})
	}
	return s
}

// NewUploadID 分配一个新的上传任务 ID。
func (s *Service) NewUploadID() string {
	return uuid.NewString()
}

// Upload 执行一次上传：先查去重缓存，未命中时分发给驱动。
// 缓存命中按秒传返回，不触达任何服务商。
func (s *Service) Upload(ctx context.Context, id string, provider constant.ProviderType, fileName string, data []byte, policy *model.UploadPolicy, auth map[string]string) (*storage.UploadResult, error) {
	if !provider.IsValid() {
		return nil, apperr.Validation("不支持的服务商类型: %s", provider)
	}
	drv := s.registry.Get(provider)
	if drv == nil {
		return nil, apperr.Validation("服务商 %s 未注册驱动", provider)
	}
	if policy == nil {
		return nil, apperr.Validation("缺少上传策略")
	}
	if policy.Type != provider {
		return nil, apperr.Validation("策略类型 %s 与请求的服务商 %s 不一致", policy.Type, provider)
	}

	dkey := dedupeKey(string(provider), policy.Name, utils.ContentHash(data))
	if s.cache != nil {
		if url, ok := s.cache.LookupURL(ctx, dkey); ok {
			log.Printf("[Uploader] 去重缓存命中: %s", url)
			result := &storage.UploadResult{URL: url, Size: int64(len(data)), Instant: true}
			s.publishCompleted(id, result)
			return result, nil
		}
	}

	result, err := drv.Upload(ctx, &storage.UploadRequest{
		ID:       id,
		FileName: fileName,
		Data:     data,
		Policy:   policy,
		Auth:     auth,
	})
	if err != nil {
		if s.bus != nil {
			s.bus.Publish(event.UploadFailed, map[string]interface{}{"id": id, "error": err.Error()})
		}
		return nil, err
	}

	if s.cache != nil && result.URL != "" {
		s.cache.StoreURL(ctx, dkey, result.URL)
	}
	s.publishCompleted(id, result)
	return result, nil
}

func (s *Service) publishCompleted(id string, result *storage.UploadResult) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.UploadProgress, event.ProgressPayload{
		ID: id, Progress: 100, Total: 100, Step: "上传完成",
		StepIndex: 5, TotalSteps: 5,
	})
	s.bus.Publish(event.UploadCompleted, map[string]interface{}{"id": id, "url": result.URL, "instant": result.Instant})
}

// Progress 返回指定任务的最近进度。
func (s *Service) Progress(ctx context.Context, id string) (event.ProgressPayload, bool) {
	if s.cache == nil {
		return event.ProgressPayload{}, false
	}
	return s.cache.LookupProgress(ctx, id)
}

// manager 返回策略对应驱动的对象管理接口。
func (s *Service) manager(policy *model.UploadPolicy) (storage.IObjectManager, error) {
	if policy == nil {
		return nil, apperr.Validation("缺少上传策略")
	}
	drv := s.registry.Get(policy.Type)
	if drv == nil {
		return nil, apperr.Validation("服务商 %s 未注册驱动", policy.Type)
	}
	mgr, ok := drv.(storage.IObjectManager)
	if !ok {
		return nil, apperr.Wrap(apperr.KindValidation,
			"该服务商不支持对象管理操作", storage.ErrFeatureNotSupported)
	}
	return mgr, nil
}

// TestConnection 验证策略凭证。对象管理接口之外，
// 只实现了连接测试的驱动（TOS、GitHub、SM.MS）也支持该操作。
func (s *Service) TestConnection(ctx context.Context, policy *model.UploadPolicy) (string, error) {
	if policy == nil {
		return "", apperr.Validation("缺少上传策略")
	}
	drv := s.registry.Get(policy.Type)
	if drv == nil {
		return "", apperr.Validation("服务商 %s 未注册驱动", policy.Type)
	}
	tester, ok := drv.(storage.IConnectionTester)
	if !ok {
		return "", apperr.Wrap(apperr.KindValidation,
			"该服务商不支持连接测试", storage.ErrFeatureNotSupported)
	}
	return tester.TestConnection(ctx, policy)
}

// ListObjects 列举远端对象。
func (s *Service) ListObjects(ctx context.Context, policy *model.UploadPolicy, prefix, token string, maxKeys int) (*storage.ListResult, error) {
	mgr, err := s.manager(policy)
	if err != nil {
		return nil, err
	}
	return mgr.ListObjects(ctx, policy, prefix, token, maxKeys)
}

// DeleteObject 删除单个远端对象。
func (s *Service) DeleteObject(ctx context.Context, policy *model.UploadPolicy, key string) error {
	mgr, err := s.manager(policy)
	if err != nil {
		return err
	}
	return mgr.DeleteObject(ctx, policy, key)
}

// DeleteObjects 批量删除远端对象。
func (s *Service) DeleteObjects(ctx context.Context, policy *model.UploadPolicy, keys []string) (*storage.BatchDeleteResult, error) {
	mgr, err := s.manager(policy)
	if err != nil {
		return nil, err
	}
	return mgr.DeleteObjects(ctx, policy, keys)
}
