/*
 * @Description: 定义了所有上传驱动需要遵守的接口和公共结构
 * @Author: 安知鱼
 * @Date: 2026-01-11 17:21:55
 * @LastEditTime: 2026-02-14 11:26:38
 * @LastEditors: 安知鱼
 */
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
)

// UploadRequest 封装一次上传的全部输入。
// 文件内容一次性读入内存（图床场景文件都很小），凭证随策略传入。
type UploadRequest struct {
	// ID 是上传任务的唯一标识，进度事件按它区分
	ID string
	// FileName 原始文件名，只用于决定扩展名和表单字段，不参与对象键计算
	FileName string
	// Data 文件完整内容
	Data []byte
	// Policy 上传策略（服务商、凭证、目标桶等）
	Policy *model.UploadPolicy
	// Auth 站点会话凭证（Cookie、Token 及动态头部），仅部分服务商需要
	Auth map[string]string
}

// UploadResult 封装了上传操作成功后的文件信息。
type UploadResult struct {
	URL     string `json:"url"`
	Key     string `json:"key,omitempty"`
	Size    int64  `json:"size"`
	ETag    string `json:"etag,omitempty"`
	Instant bool   `json:"instant"` // 是否秒传（内容已存在，未发出任何写请求）
}

// ObjectInfo 封装了 List 操作返回的单个远端对象的信息。
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// ListResult 是一次对象列举的结果。
type ListResult struct {
	Objects        []ObjectInfo `json:"objects"`
	CommonPrefixes []string     `json:"common_prefixes,omitempty"`
	NextToken      string       `json:"next_token,omitempty"`
}

// BatchDeleteResult 记录批量删除中成功与失败的键。
type BatchDeleteResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// ProgressFunc 是进度上报能力：为指定上传任务上报一次进度。
// 实现必须是即发即弃的，驱动绝不等待、也绝不因上报失败而中断上传。
type ProgressFunc func(id string, progress int, step string, stepIndex, totalSteps int)

// NopProgress 丢弃所有进度上报，测试与离线调用使用。
func NopProgress(string, int, string, int, int) {}

// 定义一个错误，用于表示某个功能不被当前驱动支持
var ErrFeatureNotSupported = errors.New("feature not supported by this provider")

// IUploadProvider 定义了所有上传驱动必须实现的接口。
type IUploadProvider interface {
	// Upload 将文件上传到策略指定的服务商，返回可公开访问的 URL。
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
}

// IConnectionTester 是能够在不写入数据的前提下验证凭证的驱动实现的接口。
type IConnectionTester interface {
	// TestConnection 发起一次轻量的只读调用验证凭证，不写入任何数据。
	TestConnection(ctx context.Context, policy *model.UploadPolicy) (string, error)
}

// IObjectManager 是对象存储类驱动（S3/R2）额外实现的管理接口。
type IObjectManager interface {
	IConnectionTester
	// ListObjects 列举指定前缀下的对象，支持续传令牌。
	ListObjects(ctx context.Context, policy *model.UploadPolicy, prefix, continuationToken string, maxKeys int) (*ListResult, error)
	// DeleteObject 删除单个对象。
	DeleteObject(ctx context.Context, policy *model.UploadPolicy, key string) error
	// DeleteObjects 逐个删除多个对象，返回成功与失败的键。
	DeleteObjects(ctx context.Context, policy *model.UploadPolicy, keys []string) (*BatchDeleteResult, error)
}

// Registry 按服务商类型持有已注册的驱动。
// 注册发生在启动期，此后只读，无需加锁。
type Registry struct {
	mu        sync.RWMutex
	providers map[constant.ProviderType]IUploadProvider
}

// NewRegistry 创建一个空的驱动注册表。
func NewRegistry() *Registry {
	return &Registry{providers: make(map[constant.ProviderType]IUploadProvider)}
}

// Register 注册一个驱动。同类型重复注册时后者覆盖前者。
func (r *Registry) Register(t constant.ProviderType, p IUploadProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[t] = p
}

// Get 返回指定类型的驱动，未注册时返回 nil。
func (r *Registry) Get(t constant.ProviderType) IUploadProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[t]
}
