package parser

import (
	"errors"
	"testing"

	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
)

func TestDecodeJSON_错误分类(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind apperr.Kind
		wantOK   bool
	}{
		{
			name:   "合法JSON",
			body:   `{"url":"https://example.com/a.png"}`,
			wantOK: true,
		},
		{
			name:     "HTML登录页映射为认证错误",
			body:     "<!DOCTYPE html>\n<html><body>请登录</body></html>",
			wantKind: apperr.KindAuth,
		},
		{
			name:     "小写html标签",
			body:     "<html lang=\"zh\"><head></head></html>",
			wantKind: apperr.KindAuth,
		},
		{
			name:     "无法解析的垃圾映射为内部错误",
			body:     "}}}not json at all",
			wantKind: apperr.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v map[string]any
			err := DecodeJSON("TestSvc", []byte(tt.body), &v)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("DecodeJSON: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("期望错误但成功了")
			}
			if got := apperr.KindOf(err); got != tt.wantKind {
				t.Errorf("错误类别 = %s, want %s", got, tt.wantKind)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope("Nami", []byte(`{"code":0,"data":{"access_key":"ak"}}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if len(env.Data) == 0 {
		t.Error("data 字段丢失")
	}

	// 业务错误必须保留服务商自己的错误码
	_, err = DecodeEnvelope("Nami", []byte(`{"code":1024,"msg":"凭证无效"}`))
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("期望 *apperr.Error, got %T", err)
	}
	if ae.Kind != apperr.KindProvider || ae.Code != 1024 {
		t.Errorf("kind=%s code=%d, want PROVIDER/1024", ae.Kind, ae.Code)
	}
}

func TestExtractUploadID(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "JSON响应",
			body: `{"UploadId":"upload-123"}`,
			want: "upload-123",
		},
		{
			name: "标准XML响应",
			body: `<?xml version="1.0"?><InitiateMultipartUploadResult><Key>web/a.png</Key><UploadId>xml-456</UploadId></InitiateMultipartUploadResult>`,
			want: "xml-456",
		},
		{
			name: "畸形XML走正则兜底",
			body: "<InitiateMultipartUploadResult><UploadId >\r\n  reg-789\r\n</UploadId ></WrongClose>",
			want: "reg-789",
		},
		{
			name:    "JSON缺少UploadId",
			body:    `{"Key":"web/a.png"}`,
			wantErr: true,
		},
		{
			name:    "空响应",
			body:    "   ",
			wantErr: true,
		},
		{
			name:    "完全无法解析",
			body:    "gateway exploded",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractUploadID("TOS", []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("UploadId = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractUploadID_HTML会话过期(t *testing.T) {
	_, err := ExtractUploadID("TOS", []byte("<html><body>login</body></html>"))
	if apperr.KindOf(err) != apperr.KindAuth {
		t.Errorf("HTML 响应应映射为认证错误, got %s", apperr.KindOf(err))
	}
}
