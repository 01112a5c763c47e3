package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/signer"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/utils"
	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
)

// recordedRequest 保存一次经过假传输层的请求快照。
type recordedRequest struct {
	Method string
	Host   string
	Path   string
	Query  string
	Body   []byte
	Header http.Header
}

// fakeTransport 把所有出站请求交给测试注入的 handler 处理并记录下来。
type fakeTransport struct {
	mu       sync.Mutex
	handler  func(req *http.Request, body []byte) (*http.Response, error)
	requests []recordedRequest
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	t.mu.Lock()
	t.requests = append(t.requests, recordedRequest{
		Method: req.Method,
		Host:   req.URL.Host,
		Path:   req.URL.Path,
		Query:  req.URL.RawQuery,
		Body:   body,
		Header: req.Header.Clone(),
	})
	t.mu.Unlock()
	return t.handler(req, body)
}

// recorded 返回满足谓词的请求快照。
func (t *fakeTransport) recorded(match func(recordedRequest) bool) []recordedRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []recordedRequest
	for _, r := range t.requests {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

func textResp(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const stsOKBody = `{"code":0,"msg":"ok","data":{"access_key":"AKTEST","secret_access_key":"SKTEST","session_token":"STSTOKEN","expire_in":3600}}`

func testTOSPolicy() *model.UploadPolicy {
	return &model.UploadPolicy{
		Name:      "nami-test",
		Type:      constant.ProviderTOS,
		Server:    "https://tos.test",
		CDNDomain: "https://cdn.test",
		Settings: model.PolicySettings{
			"region":       "tos-cn-shanghai",
			"sts_endpoint": "https://sts.test/assumerole",
			"cookie":       "session=abc",
		},
	}
}

func newTOSForTest(ft *fakeTransport) *TOSProvider {
	client := &http.Client{Transport: ft}
	return NewTOSProvider(client, nil, NewSessionTracker())
}

func TestTOS秒传命中时不发出任何签名请求(t *testing.T) {
	ft := &fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
		if req.Method != http.MethodHead {
			t.Errorf("秒传命中后不应再有请求，却收到 %s %s", req.Method, req.URL)
		}
		return textResp(http.StatusOK, ""), nil
	}}
	p := newTOSForTest(ft)

	data := []byte("hello picnexus")
	result, err := p.Upload(context.Background(), &UploadRequest{
		ID: "t1", FileName: "a.png", Data: data, Policy: testTOSPolicy(),
	})
	if err != nil {
		t.Fatalf("Upload 失败: %v", err)
	}
	if !result.Instant {
		t.Error("HEAD 命中时应标记为秒传")
	}
	wantKey := "web/" + utils.ContentHash(data) + ".png"
	if result.Key != wantKey {
		t.Errorf("对象键 = %q, 期望 %q", result.Key, wantKey)
	}
	if result.URL != "https://cdn.test/"+wantKey {
		t.Errorf("URL = %q", result.URL)
	}
	if got := len(ft.recorded(func(r recordedRequest) bool { return true })); got != 1 {
		t.Errorf("共发出 %d 个请求，秒传应只有 1 次 HEAD 探测", got)
	}
}

func TestTOS完整分片上传链路(t *testing.T) {
	ft := &fakeTransport{}
	ft.handler = func(req *http.Request, body []byte) (*http.Response, error) {
		switch {
		case req.Method == http.MethodHead:
			return textResp(http.StatusNotFound, ""), nil
		case req.URL.Host == "sts.test":
			if !strings.Contains(req.Header.Get("cookie"), "session=abc") {
				t.Error("STS 请求缺少策略配置的 Cookie")
			}
			return textResp(http.StatusOK, stsOKBody), nil
		case req.URL.RawQuery == "uploads=":
			return textResp(http.StatusOK, `{"UploadId":"UP123"}`), nil
		case req.Method == http.MethodPut:
			part := req.URL.Query().Get("partNumber")
			resp := textResp(http.StatusOK, "")
			resp.Header.Set("Etag", `"etag-`+part+`"`)
			return resp, nil
		case req.Method == http.MethodPost:
			return textResp(http.StatusOK, "{}"), nil
		}
		t.Errorf("意外的请求: %s %s", req.Method, req.URL)
		return textResp(http.StatusInternalServerError, ""), nil
	}
	p := newTOSForTest(ft)

	// 6MiB 数据 + 5MiB 分片 -> 正好 2 片
	policy := testTOSPolicy()
	policy.Settings[constant.SettingPartSize] = 5 * 1024 * 1024
	data := bytes.Repeat([]byte{0xAB}, 6*1024*1024)

	result, err := p.Upload(context.Background(), &UploadRequest{
		ID: "t2", FileName: "big.png", Data: data, Policy: policy,
	})
	if err != nil {
		t.Fatalf("Upload 失败: %v", err)
	}
	if result.Instant {
		t.Error("实际上传的结果不应标记为秒传")
	}

	puts := ft.recorded(func(r recordedRequest) bool { return r.Method == http.MethodPut })
	if len(puts) != 2 {
		t.Fatalf("分片 PUT 次数 = %d, 期望 2", len(puts))
	}
	if got := len(puts[0].Body); got != 5*1024*1024 {
		t.Errorf("第一片大小 = %d", got)
	}
	if got := len(puts[1].Body); got != 1024*1024 {
		t.Errorf("第二片大小 = %d", got)
	}
	for _, put := range puts {
		auth := put.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "TOS4-HMAC-SHA256 Credential=AKTEST/") {
			t.Errorf("分片请求 Authorization 异常: %q", auth)
		}
		if put.Header.Get("X-Tos-Security-Token") != "STSTOKEN" {
			t.Error("分片请求缺少 STS 会话令牌头")
		}
		if !strings.Contains(put.Query, "uploadId=UP123") {
			t.Errorf("分片请求查询串异常: %q", put.Query)
		}
	}

	completes := ft.recorded(func(r recordedRequest) bool {
		return r.Method == http.MethodPost && r.Query == "uploadId=UP123"
	})
	if len(completes) != 1 {
		t.Fatalf("完成请求次数 = %d, 期望 1", len(completes))
	}
	var payload struct {
		Parts []completedPart `json:"Parts"`
	}
	if err := json.Unmarshal(completes[0].Body, &payload); err != nil {
		t.Fatalf("完成请求体不是合法 JSON: %v", err)
	}
	if len(payload.Parts) != 2 ||
		payload.Parts[0].PartNumber != 1 || payload.Parts[0].ETag != `"etag-1"` ||
		payload.Parts[1].PartNumber != 2 || payload.Parts[1].ETag != `"etag-2"` {
		t.Errorf("完成请求体分片列表异常: %+v", payload.Parts)
	}

	if p.tracker.Len() != 0 {
		t.Error("上传完成后追踪器中不应残留会话")
	}
}

func TestTOS认证失败立即终止不重试(t *testing.T) {
	ft := &fakeTransport{}
	ft.handler = func(req *http.Request, _ []byte) (*http.Response, error) {
		switch {
		case req.Method == http.MethodHead:
			return textResp(http.StatusNotFound, ""), nil
		case req.URL.Host == "sts.test":
			return textResp(http.StatusOK, stsOKBody), nil
		default:
			return textResp(http.StatusForbidden, "AccessDenied"), nil
		}
	}
	p := newTOSForTest(ft)

	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "t3", FileName: "a.png", Data: []byte("x"), Policy: testTOSPolicy(),
	})
	if err == nil {
		t.Fatal("期望认证错误")
	}
	if apperr.KindOf(err) != apperr.KindAuth {
		t.Errorf("错误类别 = %v, 期望 AUTH", apperr.KindOf(err))
	}
	stsCalls := ft.recorded(func(r recordedRequest) bool { return r.Host == "sts.test" })
	if len(stsCalls) != 1 {
		t.Errorf("STS 调用 %d 次，认证失败不应触发重试", len(stsCalls))
	}
}

func TestTOS网络错误触发整序列重试(t *testing.T) {
	var initCalls int
	ft := &fakeTransport{}
	ft.handler = func(req *http.Request, _ []byte) (*http.Response, error) {
		switch {
		case req.Method == http.MethodHead:
			return textResp(http.StatusNotFound, ""), nil
		case req.URL.Host == "sts.test":
			return textResp(http.StatusOK, stsOKBody), nil
		case req.URL.RawQuery == "uploads=":
			initCalls++
			if initCalls == 1 {
				// 第一次初始化在网络层面失败
				return nil, errors.New("connection reset by peer")
			}
			return textResp(http.StatusOK, `{"UploadId":"UP456"}`), nil
		case req.Method == http.MethodPut:
			resp := textResp(http.StatusOK, "")
			resp.Header.Set("Etag", "etag-x")
			return resp, nil
		default:
			return textResp(http.StatusOK, "{}"), nil
		}
	}
	p := newTOSForTest(ft)

	result, err := p.Upload(context.Background(), &UploadRequest{
		ID: "t4", FileName: "a.png", Data: []byte("retry me"), Policy: testTOSPolicy(),
	})
	if err != nil {
		t.Fatalf("重试后仍失败: %v", err)
	}
	if result.Instant {
		t.Error("结果不应是秒传")
	}
	// 重试发生在整个序列的粒度上：STS 也要重新获取
	stsCalls := ft.recorded(func(r recordedRequest) bool { return r.Host == "sts.test" })
	if len(stsCalls) != 2 {
		t.Errorf("STS 调用 %d 次，期望每次尝试各 1 次", len(stsCalls))
	}
}

func TestTOS完成失败时中止会话(t *testing.T) {
	ft := &fakeTransport{}
	ft.handler = func(req *http.Request, _ []byte) (*http.Response, error) {
		switch {
		case req.Method == http.MethodHead:
			return textResp(http.StatusNotFound, ""), nil
		case req.URL.Host == "sts.test":
			return textResp(http.StatusOK, stsOKBody), nil
		case req.URL.RawQuery == "uploads=":
			return textResp(http.StatusOK, `{"UploadId":"UP789"}`), nil
		case req.Method == http.MethodPut:
			resp := textResp(http.StatusOK, "")
			resp.Header.Set("Etag", "etag-1")
			return resp, nil
		case req.Method == http.MethodPost:
			// 完成请求被服务端拒绝
			return textResp(http.StatusForbidden, "expired"), nil
		case req.Method == http.MethodDelete:
			return textResp(http.StatusNoContent, ""), nil
		}
		return textResp(http.StatusInternalServerError, ""), nil
	}
	p := newTOSForTest(ft)

	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "t5", FileName: "a.png", Data: []byte("atomic"), Policy: testTOSPolicy(),
	})
	if err == nil {
		t.Fatal("完成失败时应返回错误")
	}
	aborts := ft.recorded(func(r recordedRequest) bool { return r.Method == http.MethodDelete })
	if len(aborts) != 1 {
		t.Fatalf("中止 DELETE 次数 = %d, 期望 1", len(aborts))
	}
	if !strings.Contains(aborts[0].Query, "uploadId=UP789") {
		t.Errorf("中止请求查询串异常: %q", aborts[0].Query)
	}
	if p.tracker.Len() != 0 {
		t.Error("会话中止成功后追踪器应为空")
	}
}

func TestTOS会话过期返回HTML登录页(t *testing.T) {
	ft := &fakeTransport{}
	ft.handler = func(req *http.Request, _ []byte) (*http.Response, error) {
		if req.Method == http.MethodHead {
			return textResp(http.StatusNotFound, ""), nil
		}
		return textResp(http.StatusOK, "<!DOCTYPE html><html><body>请登录</body></html>"), nil
	}
	p := newTOSForTest(ft)

	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "t6", FileName: "a.png", Data: []byte("x"), Policy: testTOSPolicy(),
	})
	if err == nil {
		t.Fatal("期望认证错误")
	}
	if apperr.KindOf(err) != apperr.KindAuth {
		t.Errorf("错误类别 = %v, 期望 AUTH", apperr.KindOf(err))
	}
}

func TestTOS文件大小超限(t *testing.T) {
	p := newTOSForTest(&fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
		t.Errorf("验证失败后不应发出请求: %s %s", req.Method, req.URL)
		return textResp(http.StatusOK, ""), nil
	}})

	policy := testTOSPolicy()
	policy.MaxSize = 4
	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "t7", FileName: "a.png", Data: []byte("too large"), Policy: policy,
	})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("错误类别 = %v, 期望 VALIDATION", apperr.KindOf(err))
	}
}

func Test分片大小钳制到协议下限(t *testing.T) {
	policy := testTOSPolicy()
	policy.Settings[constant.SettingPartSize] = 1024
	if got := partSizeFor(policy); got != minPartSize {
		t.Errorf("partSizeFor = %d, 期望钳制到 %d", got, minPartSize)
	}

	delete(policy.Settings, constant.SettingPartSize)
	if got := partSizeFor(policy); got != defaultPartSize {
		t.Errorf("partSizeFor 默认值 = %d, 期望 %d", got, defaultPartSize)
	}
}

func TestTOS主机名解析(t *testing.T) {
	tests := []struct {
		name   string
		server string
		want   string
	}{
		{"默认主机", "", defaultTOSHost},
		{"去掉https前缀", "https://custom.tos.example", "custom.tos.example"},
		{"裸主机名", "bare.example", "bare.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := &model.UploadPolicy{Server: tt.server}
			if got := tosHost(policy); got != tt.want {
				t.Errorf("tosHost(%q) = %q, 期望 %q", tt.server, got, tt.want)
			}
		})
	}
}

func TestAbortSession中止过期会话(t *testing.T) {
	ft := &fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
		if req.Method != http.MethodDelete {
			t.Errorf("意外的请求: %s %s", req.Method, req.URL)
		}
		return textResp(http.StatusNoContent, ""), nil
	}}
	p := newTOSForTest(ft)

	session := MultipartSession{
		UploadID: "STALE1",
		Key:      "web/abc.png",
		Host:     "tos.test",
		Region:   "tos-cn-shanghai",
		Creds:    signer.Credentials{AccessKeyID: "AKTEST", SecretKey: "SKTEST", SessionToken: "STSTOKEN"},
	}
	p.tracker.Track(session)

	if err := p.AbortSession(context.Background(), session); err != nil {
		t.Fatalf("AbortSession 失败: %v", err)
	}
	if p.tracker.Len() != 0 {
		t.Error("中止后追踪器应为空")
	}
	aborts := ft.recorded(func(r recordedRequest) bool { return r.Method == http.MethodDelete })
	if len(aborts) != 1 || aborts[0].Path != "/web/abc.png" {
		t.Errorf("中止请求异常: %+v", aborts)
	}
}
