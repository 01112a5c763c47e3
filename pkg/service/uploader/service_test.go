package uploader

import (
	"context"
	"errors"
	"testing"

	"github.com/anzhiyu-c/picnexus-server/internal/infra/storage"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/event"
	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
)

// fakeProvider 是一个可编程的测试驱动。
type fakeProvider struct {
	uploads int
	result  *storage.UploadResult
	err     error
}

func (f *fakeProvider) Upload(ctx context.Context, req *storage.UploadRequest) (*storage.UploadResult, error) {
	f.uploads++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProvider) TestConnection(ctx context.Context, policy *model.UploadPolicy) (string, error) {
	return "ok", nil
}

func newServiceForTest(t *testing.T, fp *fakeProvider) *Service {
	t.Helper()
	registry := storage.NewRegistry()
	registry.Register(constant.ProviderSMMS, fp)
	return NewService(registry, nil, NewCache(nil))
}

func smmsPolicy() *model.UploadPolicy {
	return &model.UploadPolicy{Name: "p1", Type: constant.ProviderSMMS, SecretKey: "tok"}
}

func TestUpload分发到注册驱动(t *testing.T) {
	fp := &fakeProvider{result: &storage.UploadResult{URL: "https://x/a.png", Size: 4}}
	svc := newServiceForTest(t, fp)

	result, err := svc.Upload(context.Background(), svc.NewUploadID(),
		constant.ProviderSMMS, "a.png", []byte("data"), smmsPolicy(), nil)
	if err != nil {
		t.Fatalf("Upload 失败: %v", err)
	}
	if result.URL != "https://x/a.png" {
		t.Errorf("URL = %q", result.URL)
	}
	if fp.uploads != 1 {
		t.Errorf("驱动调用次数 = %d", fp.uploads)
	}
}

func TestUpload未注册服务商(t *testing.T) {
	svc := NewService(storage.NewRegistry(), nil, NewCache(nil))
	_, err := svc.Upload(context.Background(), "id1",
		constant.ProviderSMMS, "a.png", []byte("x"), smmsPolicy(), nil)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("错误类别 = %v, 期望 VALIDATION", apperr.KindOf(err))
	}
}

func TestUpload策略类型不匹配(t *testing.T) {
	fp := &fakeProvider{result: &storage.UploadResult{URL: "u"}}
	svc := newServiceForTest(t, fp)

	policy := smmsPolicy()
	policy.Type = constant.ProviderImgur
	_, err := svc.Upload(context.Background(), "id2",
		constant.ProviderSMMS, "a.png", []byte("x"), policy, nil)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("错误类别 = %v, 期望 VALIDATION", apperr.KindOf(err))
	}
	if fp.uploads != 0 {
		t.Error("策略校验失败时不应调用驱动")
	}
}

func TestUpload相同内容第二次命中去重缓存(t *testing.T) {
	fp := &fakeProvider{result: &storage.UploadResult{URL: "https://x/dup.png", Size: 4}}
	svc := newServiceForTest(t, fp)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "id3", constant.ProviderSMMS, "a.png", []byte("same"), smmsPolicy(), nil); err != nil {
		t.Fatalf("首次上传失败: %v", err)
	}
	result, err := svc.Upload(ctx, "id4", constant.ProviderSMMS, "b.png", []byte("same"), smmsPolicy(), nil)
	if err != nil {
		t.Fatalf("二次上传失败: %v", err)
	}
	if !result.Instant {
		t.Error("相同内容的二次上传应命中缓存并标记秒传")
	}
	if result.URL != "https://x/dup.png" {
		t.Errorf("缓存 URL = %q", result.URL)
	}
	if fp.uploads != 1 {
		t.Errorf("驱动调用次数 = %d, 缓存命中不应再调驱动", fp.uploads)
	}
}

func TestUpload失败不写入去重缓存(t *testing.T) {
	fp := &fakeProvider{err: apperr.Network("boom")}
	svc := newServiceForTest(t, fp)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "id5", constant.ProviderSMMS, "a.png", []byte("fail"), smmsPolicy(), nil); err == nil {
		t.Fatal("期望上传失败")
	}

	fp.err = nil
	fp.result = &storage.UploadResult{URL: "https://x/ok.png"}
	result, err := svc.Upload(ctx, "id6", constant.ProviderSMMS, "a.png", []byte("fail"), smmsPolicy(), nil)
	if err != nil {
		t.Fatalf("重新上传失败: %v", err)
	}
	if result.Instant {
		t.Error("失败的上传不应留下去重记录")
	}
	if fp.uploads != 2 {
		t.Errorf("驱动调用次数 = %d", fp.uploads)
	}
}

func TestTestConnection按驱动能力分派(t *testing.T) {
	fp := &fakeProvider{}
	svc := newServiceForTest(t, fp)

	msg, err := svc.TestConnection(context.Background(), smmsPolicy())
	if err != nil {
		t.Fatalf("TestConnection 失败: %v", err)
	}
	if msg != "ok" {
		t.Errorf("msg = %q", msg)
	}
}

func Test对象管理操作不支持的驱动(t *testing.T) {
	fp := &fakeProvider{}
	svc := newServiceForTest(t, fp)

	_, err := svc.ListObjects(context.Background(), smmsPolicy(), "", "", 0)
	if err == nil {
		t.Fatal("期望不支持错误")
	}
	if !errors.Is(err, storage.ErrFeatureNotSupported) {
		t.Errorf("错误应包装 ErrFeatureNotSupported: %v", err)
	}
}

func Test进度快照内存兜底(t *testing.T) {
	cache := NewCache(nil)
	cache.StoreProgress(event.ProgressPayload{
		ID: "up1", Progress: 60, Total: 100, Step: "上传分片中...", StepIndex: 4, TotalSteps: 5,
	})

	p, ok := cache.LookupProgress(context.Background(), "up1")
	if !ok {
		t.Fatal("快照应可读取")
	}
	if p.Progress != 60 || p.Step != "上传分片中..." {
		t.Errorf("快照内容异常: %+v", p)
	}

	if _, ok := cache.LookupProgress(context.Background(), "missing"); ok {
		t.Error("不存在的任务不应返回快照")
	}
}
