package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
)

// --- GitHub ---

func testGithubPolicy() *model.UploadPolicy {
	return &model.UploadPolicy{
		Name:       "gh-test",
		Type:       constant.ProviderGitHub,
		BucketName: "anzhiyu-c/image-host",
		SecretKey:  "ghp_testtoken",
		BasePath:   "img",
		Settings:   model.PolicySettings{"branch": "main"},
	}
}

func TestGithub上传成功(t *testing.T) {
	ft := &fakeTransport{}
	ft.handler = func(req *http.Request, body []byte) (*http.Response, error) {
		if req.Method != http.MethodPut {
			t.Errorf("期望 PUT, 收到 %s", req.Method)
		}
		if req.URL.Path != "/repos/anzhiyu-c/image-host/contents/img/cat.png" {
			t.Errorf("路径异常: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "token ghp_testtoken" {
			t.Errorf("Authorization = %q", got)
		}
		var payload struct {
			Message string `json:"message"`
			Content string `json:"content"`
			Branch  string `json:"branch"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("请求体不是合法 JSON: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil || string(decoded) != "meow" {
			t.Errorf("content 字段不是文件内容的 Base64: %q", payload.Content)
		}
		if payload.Branch != "main" {
			t.Errorf("branch = %q", payload.Branch)
		}
		return textResp(http.StatusCreated,
			`{"content":{"download_url":"https://raw.githubusercontent.com/x/cat.png","sha":"abc123"}}`), nil
	}

	p := NewGithubProvider(&http.Client{Transport: ft}, nil)
	result, err := p.Upload(context.Background(), &UploadRequest{
		ID: "g1", FileName: "cat.png", Data: []byte("meow"), Policy: testGithubPolicy(),
	})
	if err != nil {
		t.Fatalf("Upload 失败: %v", err)
	}
	if result.URL != "https://raw.githubusercontent.com/x/cat.png" {
		t.Errorf("URL = %q", result.URL)
	}
	if result.ETag != "abc123" {
		t.Errorf("ETag = %q", result.ETag)
	}
}

func TestGithubCDN改写(t *testing.T) {
	ft := &fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
		return textResp(http.StatusCreated,
			`{"content":{"download_url":"https://raw.githubusercontent.com/x/cat.png","sha":"abc"}}`), nil
	}}
	policy := testGithubPolicy()
	policy.CDNDomain = "https://cdn.jsdelivr.net/gh/anzhiyu-c/image-host@main/"

	p := NewGithubProvider(&http.Client{Transport: ft}, nil)
	result, err := p.Upload(context.Background(), &UploadRequest{
		ID: "g2", FileName: "cat.png", Data: []byte("meow"), Policy: policy,
	})
	if err != nil {
		t.Fatalf("Upload 失败: %v", err)
	}
	want := "https://cdn.jsdelivr.net/gh/anzhiyu-c/image-host@main/img/cat.png"
	if result.URL != want {
		t.Errorf("URL = %q, 期望 %q", result.URL, want)
	}
}

func TestGithub错误状态码映射(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   apperr.Kind
	}{
		{"Token无效", http.StatusUnauthorized, apperr.KindAuth},
		{"频率限制", http.StatusForbidden, apperr.KindAuth},
		{"仓库不存在", http.StatusNotFound, apperr.KindStorage},
		{"验证失败", http.StatusUnprocessableEntity, apperr.KindValidation},
		{"服务端错误", http.StatusInternalServerError, apperr.KindProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
				return textResp(tt.status, `{"message":"nope"}`), nil
			}}
			p := NewGithubProvider(&http.Client{Transport: ft}, nil)
			_, err := p.Upload(context.Background(), &UploadRequest{
				ID: "g3", FileName: "a.png", Data: []byte("x"), Policy: testGithubPolicy(),
			})
			if apperr.KindOf(err) != tt.want {
				t.Errorf("HTTP %d 的错误类别 = %v, 期望 %v", tt.status, apperr.KindOf(err), tt.want)
			}
		})
	}
}

func TestGithub配置缺失(t *testing.T) {
	p := NewGithubProvider(&http.Client{}, nil)
	policy := testGithubPolicy()
	policy.BucketName = "notarepo"
	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "g4", FileName: "a.png", Data: []byte("x"), Policy: policy,
	})
	if apperr.KindOf(err) != apperr.KindConfig {
		t.Errorf("错误类别 = %v, 期望 CONFIG", apperr.KindOf(err))
	}
}

// --- SM.MS ---

func testSmmsPolicy() *model.UploadPolicy {
	return &model.UploadPolicy{
		Name:      "smms-test",
		Type:      constant.ProviderSMMS,
		SecretKey: "smms-token",
	}
}

func TestSmms上传成功(t *testing.T) {
	ft := &fakeTransport{}
	ft.handler = func(req *http.Request, body []byte) (*http.Response, error) {
		if got := req.Header.Get("Authorization"); got != "smms-token" {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
		}
		if !strings.Contains(string(body), `name="smfile"`) {
			t.Error("表单缺少 smfile 字段")
		}
		return textResp(http.StatusOK,
			`{"success":true,"code":"success","message":"ok","data":{"url":"https://s2.loli.net/a.png","hash":"h1","size":4}}`), nil
	}

	p := NewSmmsProvider(&http.Client{Transport: ft}, nil)
	result, err := p.Upload(context.Background(), &UploadRequest{
		ID: "s1", FileName: "a.png", Data: []byte("data"), Policy: testSmmsPolicy(),
	})
	if err != nil {
		t.Fatalf("Upload 失败: %v", err)
	}
	if result.URL != "https://s2.loli.net/a.png" {
		t.Errorf("URL = %q", result.URL)
	}
}

func TestSmms重复图片按秒传处理(t *testing.T) {
	ft := &fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
		return textResp(http.StatusOK,
			`{"success":false,"code":"image_repeated","message":"Image upload repeated limit","images":"https://s2.loli.net/exist.png"}`), nil
	}}
	p := NewSmmsProvider(&http.Client{Transport: ft}, nil)
	result, err := p.Upload(context.Background(), &UploadRequest{
		ID: "s2", FileName: "a.png", Data: []byte("data"), Policy: testSmmsPolicy(),
	})
	if err != nil {
		t.Fatalf("Upload 失败: %v", err)
	}
	if !result.Instant {
		t.Error("重复图片应标记为秒传")
	}
	if result.URL != "https://s2.loli.net/exist.png" {
		t.Errorf("URL = %q", result.URL)
	}
}

func TestSmms扩展名与大小校验(t *testing.T) {
	p := NewSmmsProvider(&http.Client{}, nil)

	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "s3", FileName: "doc.pdf", Data: []byte("x"), Policy: testSmmsPolicy(),
	})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("pdf 的错误类别 = %v, 期望 VALIDATION", apperr.KindOf(err))
	}

	big := make([]byte, smmsMaxFileSize+1)
	_, err = p.Upload(context.Background(), &UploadRequest{
		ID: "s4", FileName: "a.png", Data: big, Policy: testSmmsPolicy(),
	})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("超大文件的错误类别 = %v, 期望 VALIDATION", apperr.KindOf(err))
	}
}

func TestSmms业务失败(t *testing.T) {
	ft := &fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
		return textResp(http.StatusOK,
			`{"success":false,"code":"flood","message":"too fast"}`), nil
	}}
	p := NewSmmsProvider(&http.Client{Transport: ft}, nil)
	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "s5", FileName: "a.png", Data: []byte("x"), Policy: testSmmsPolicy(),
	})
	if apperr.KindOf(err) != apperr.KindProvider {
		t.Errorf("错误类别 = %v, 期望 PROVIDER", apperr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "flood") {
		t.Errorf("错误信息应携带服务商错误码: %v", err)
	}
}

// --- Imgur ---

func testImgurPolicy() *model.UploadPolicy {
	return &model.UploadPolicy{
		Name:      "imgur-test",
		Type:      constant.ProviderImgur,
		AccessKey: "client-id-1",
	}
}

func TestImgur上传成功(t *testing.T) {
	ft := &fakeTransport{}
	ft.handler = func(req *http.Request, body []byte) (*http.Response, error) {
		if got := req.Header.Get("Authorization"); got != "Client-ID client-id-1" {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.Contains(string(body), `name="image"`) {
			t.Error("表单缺少 image 字段")
		}
		return textResp(http.StatusOK,
			`{"success":true,"data":{"link":"https://i.imgur.com/x.png","deletehash":"dh1"}}`), nil
	}

	p := NewImgurProvider(&http.Client{Transport: ft}, nil)
	result, err := p.Upload(context.Background(), &UploadRequest{
		ID: "i1", FileName: "a.png", Data: []byte("data"), Policy: testImgurPolicy(),
	})
	if err != nil {
		t.Fatalf("Upload 失败: %v", err)
	}
	if result.URL != "https://i.imgur.com/x.png" {
		t.Errorf("URL = %q", result.URL)
	}
	if result.ETag != "dh1" {
		t.Errorf("ETag = %q", result.ETag)
	}
}

func TestImgurGIF大小上限更宽(t *testing.T) {
	p := NewImgurProvider(&http.Client{}, nil)

	big := make([]byte, imgurMaxImageSize+1)
	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "i2", FileName: "a.png", Data: big, Policy: testImgurPolicy(),
	})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("超大 PNG 的错误类别 = %v, 期望 VALIDATION", apperr.KindOf(err))
	}

	// 同样大小的 GIF 在 200MB 上限内，应通过校验并真正发起请求
	ft := &fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
		return textResp(http.StatusOK,
			`{"success":true,"data":{"link":"https://i.imgur.com/g.gif","deletehash":"dh2"}}`), nil
	}}
	p = NewImgurProvider(&http.Client{Transport: ft}, nil)
	if _, err := p.Upload(context.Background(), &UploadRequest{
		ID: "i3", FileName: "a.gif", Data: big, Policy: testImgurPolicy(),
	}); err != nil {
		t.Errorf("GIF 上传不应被大小校验拦截: %v", err)
	}
}

func TestImgur网络错误(t *testing.T) {
	ft := &fakeTransport{handler: func(req *http.Request, _ []byte) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	p := NewImgurProvider(&http.Client{Transport: ft}, nil)
	_, err := p.Upload(context.Background(), &UploadRequest{
		ID: "i4", FileName: "a.png", Data: []byte("x"), Policy: testImgurPolicy(),
	})
	if apperr.KindOf(err) != apperr.KindNetwork {
		t.Errorf("错误类别 = %v, 期望 NETWORK", apperr.KindOf(err))
	}
}

// --- S3 纯函数 ---

func TestS3错误翻译(t *testing.T) {
	policy := &model.UploadPolicy{BucketName: "mybucket"}
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"桶不存在", errors.New("api error NoSuchBucket"), apperr.KindStorage},
		{"拒绝访问", errors.New("api error AccessDenied: denied"), apperr.KindAuth},
		{"密钥无效", errors.New("InvalidAccessKeyId"), apperr.KindAuth},
		{"签名不匹配", errors.New("SignatureDoesNotMatch"), apperr.KindAuth},
		{"超时", errors.New("context deadline exceeded"), apperr.KindNetwork},
		{"连接拒绝", errors.New("dial tcp: connection refused"), apperr.KindNetwork},
		{"其他", errors.New("boom"), apperr.KindStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := friendlyS3Error(policy, tt.err)
			if apperr.KindOf(got) != tt.want {
				t.Errorf("friendlyS3Error(%v) 类别 = %v, 期望 %v", tt.err, apperr.KindOf(got), tt.want)
			}
		})
	}
}

func TestS3公开URL构造(t *testing.T) {
	p := NewS3Provider(nil)
	policy := &model.UploadPolicy{
		Server:     "https://acc.r2.cloudflarestorage.com",
		BucketName: "img",
	}
	if got := p.publicURL(policy, "web/a.png"); got != "https://acc.r2.cloudflarestorage.com/img/web/a.png" {
		t.Errorf("publicURL = %q", got)
	}

	policy.CDNDomain = "https://img.example.com/"
	if got := p.publicURL(policy, "web/a.png"); got != "https://img.example.com/web/a.png" {
		t.Errorf("CDN publicURL = %q", got)
	}
}
