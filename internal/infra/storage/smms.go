/*
 * @Description: SM.MS 图床驱动
 * @Author: 安知鱼
 * @Date: 2026-01-26 10:18:33
 * @LastEditTime: 2026-02-15 21:02:19
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/parser"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/utils"
	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
)

const (
	smmsServiceName = "SM.MS"
	smmsUploadURL   = "https://sm.ms/api/v2/upload"
	smmsProfileURL  = "https://sm.ms/api/v2/profile"

	// SM.MS 免费用户限制
	smmsMaxFileSize = 5 * 1024 * 1024
)

// smmsResponse 是 SM.MS API 的响应结构。
// 同名图片重复上传时 success=false、code="image_repeated"，
// 原图 URL 放在 images 字段里，这种情况按秒传处理。
type smmsResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		URL    string `json:"url"`
		Delete string `json:"delete"`
		Hash   string `json:"hash"`
		Size   int64  `json:"size"`
	} `json:"data"`
	Images string `json:"images"`
}

// SmmsProvider 实现了 IUploadProvider 接口，
// 通过 multipart 表单将图片上传到 SM.MS。
type SmmsProvider struct {
	client   *http.Client
	progress ProgressFunc
}

// NewSmmsProvider 是 SmmsProvider 的构造函数。
func NewSmmsProvider(client *http.Client, progress ProgressFunc) *SmmsProvider {
	if progress == nil {
		progress = NopProgress
	}
	return &SmmsProvider{client: client, progress: progress}
}

// Upload 将图片上传到 SM.MS。Token 取自策略的 SecretKey。
func (p *SmmsProvider) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	token := req.Policy.SecretKey
	if token == "" {
		return nil, apperr.Config("SM.MS 策略缺少 Token")
	}
	if len(req.Data) == 0 {
		return nil, apperr.Validation("文件内容为空")
	}
	if int64(len(req.Data)) > smmsMaxFileSize {
		return nil, apperr.Validation("文件大小 (%.2fMB) 超过 SM.MS 限制 (5MB)",
			float64(len(req.Data))/1024/1024)
	}
	ext := utils.FileExt(req.FileName)
	if !utils.IsImageExt(ext) {
		return nil, apperr.Validation("只支持 JPG、PNG、GIF、BMP、WebP 格式的图片")
	}

	p.progress(req.ID, 0, "准备上传...", 1, 3)
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("smfile", req.FileName)
	if err != nil {
		return nil, apperr.Internal("构造表单失败: %v", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, apperr.Internal("写入表单失败: %v", err)
	}
	if err := writer.Close(); err != nil {
		return nil, apperr.Internal("关闭表单失败: %v", err)
	}

	p.progress(req.ID, 33, "正在上传...", 2, 3)
	log.Printf("[SM.MS] 开始上传文件: %s", req.FileName)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, smmsUploadURL, &buf)
	if err != nil {
		return nil, apperr.Internal("构造请求失败: %v", err)
	}
	httpReq.Header.Set("Authorization", token)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, fmt.Sprintf("上传请求失败: %v", err), err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Network("读取响应失败: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, apperr.Auth("SM.MS Token 无效或已过期")
		case http.StatusTooManyRequests:
			return nil, apperr.Provider(smmsServiceName, "API 调用频率超限，请稍后重试")
		case http.StatusRequestEntityTooLarge:
			return nil, apperr.Validation("文件大小超过限制 (5MB)")
		}
		return nil, apperr.Provider(smmsServiceName,
			fmt.Sprintf("上传失败 (HTTP %d): %s", resp.StatusCode, respBody))
	}

	var smResp smmsResponse
	if err := parser.DecodeJSON(smmsServiceName, respBody, &smResp); err != nil {
		return nil, err
	}

	if !smResp.Success {
		// 重复图片：服务端已有同内容文件，直接复用其 URL
		if smResp.Code == "image_repeated" && smResp.Images != "" {
			log.Printf("[SM.MS] 图片已存在，复用 URL: %s", smResp.Images)
			return &UploadResult{
				URL:     smResp.Images,
				Size:    int64(len(req.Data)),
				Instant: true,
			}, nil
		}
		return nil, apperr.Provider(smmsServiceName,
			fmt.Sprintf("%s: %s", smResp.Code, smResp.Message))
	}
	if smResp.Data == nil || smResp.Data.URL == "" {
		return nil, apperr.Provider(smmsServiceName, "API 未返回数据")
	}

	p.progress(req.ID, 100, "上传完成", 3, 3)
	log.Printf("[SM.MS] 上传成功 - URL: %s", smResp.Data.URL)
	return &UploadResult{
		URL:  smResp.Data.URL,
		Size: int64(len(req.Data)),
		ETag: smResp.Data.Hash,
	}, nil
}

// TestConnection 调用 profile 接口验证 Token 的有效性。
func (p *SmmsProvider) TestConnection(ctx context.Context, policy *model.UploadPolicy) (string, error) {
	if policy.SecretKey == "" {
		return "", apperr.Config("SM.MS 策略缺少 Token")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, smmsProfileURL, strings.NewReader(""))
	if err != nil {
		return "", apperr.Internal("构造请求失败: %v", err)
	}
	httpReq.Header.Set("Authorization", policy.SecretKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNetwork, fmt.Sprintf("请求失败: %v", err), err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Network("读取响应失败: %v", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", apperr.Auth("SM.MS Token 无效或已过期")
	}
	var smResp smmsResponse
	if err := parser.DecodeJSON(smmsServiceName, respBody, &smResp); err != nil {
		return "", err
	}
	if !smResp.Success {
		return "", apperr.Auth("SM.MS Token 验证失败: %s", smResp.Message)
	}
	return "SM.MS Token 有效，连接成功", nil
}
