/*
 * @Description: Imgur 图床驱动
 * @Author: 安知鱼
 * @Date: 2026-01-26 11:05:27
 * @LastEditTime: 2026-02-15 21:30:56
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

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/parser"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/utils"
	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
)

const (
	imgurServiceName = "Imgur"
	imgurUploadURL   = "https://api.imgur.com/3/image"

	// 普通图片与 GIF 的大小上限不同
	imgurMaxImageSize = 20 * 1024 * 1024
	imgurMaxGifSize   = 200 * 1024 * 1024
)

// imgurResponse 是 Imgur API 的响应结构。
type imgurResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Link       string `json:"link"`
		DeleteHash string `json:"deletehash"`
	} `json:"data"`
}

// imgurExts 是 Imgur 接受的扩展名，比通用图片集合更宽。
var imgurExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "apng": {},
	"tiff": {}, "bmp": {}, "webp": {},
}

// ImgurProvider 实现了 IUploadProvider 接口，匿名（Client-ID）上传到 Imgur。
type ImgurProvider struct {
	client   *http.Client
	progress ProgressFunc
}

// NewImgurProvider 是 ImgurProvider 的构造函数。
func NewImgurProvider(client *http.Client, progress ProgressFunc) *ImgurProvider {
	if progress == nil {
		progress = NopProgress
	}
	return &ImgurProvider{client: client, progress: progress}
}

// Upload 将图片上传到 Imgur。
// Client ID 取自策略的 AccessKey，可选的 Client Secret 取自 SecretKey。
func (p *ImgurProvider) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	clientID := req.Policy.AccessKey
	if clientID == "" {
		return nil, apperr.Config("Imgur 策略缺少 Client ID")
	}
	if len(req.Data) == 0 {
		return nil, apperr.Validation("文件内容为空")
	}

	ext := utils.FileExt(req.FileName)
	if _, ok := imgurExts[ext]; !ok {
		return nil, apperr.Validation("只支持 JPG、PNG、GIF、WebP、APNG、TIFF、BMP 格式的图片")
	}
	maxSize := int64(imgurMaxImageSize)
	if ext == "gif" {
		maxSize = imgurMaxGifSize
	}
	if int64(len(req.Data)) > maxSize {
		return nil, apperr.Validation("文件大小 (%.2fMB) 超过 Imgur 限制 (%.0fMB)",
			float64(len(req.Data))/1024/1024, float64(maxSize)/1024/1024)
	}

	p.progress(req.ID, 0, "准备上传...", 1, 3)
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", req.FileName)
	if err != nil {
		return nil, apperr.Internal("构造表单失败: %v", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, apperr.Internal("写入表单失败: %v", err)
	}
	if secret := req.Policy.SecretKey; secret != "" {
		if err := writer.WriteField("client_secret", secret); err != nil {
			return nil, apperr.Internal("写入表单失败: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, apperr.Internal("关闭表单失败: %v", err)
	}

	p.progress(req.ID, 33, "正在上传...", 2, 3)
	log.Printf("[Imgur] 开始上传文件: %s", req.FileName)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, imgurUploadURL, &buf)
	if err != nil {
		return nil, apperr.Internal("构造请求失败: %v", err)
	}
	httpReq.Header.Set("Authorization", "Client-ID "+clientID)
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
			return nil, apperr.Auth("Imgur Client ID 无效")
		case http.StatusForbidden:
			return nil, apperr.Auth("Imgur API 访问被拒绝")
		case http.StatusTooManyRequests:
			return nil, apperr.Provider(imgurServiceName, "API 调用频率超限 (1250次/天)")
		}
		return nil, apperr.Provider(imgurServiceName,
			fmt.Sprintf("上传失败 (HTTP %d): %s", resp.StatusCode, respBody))
	}

	var imResp imgurResponse
	if err := parser.DecodeJSON(imgurServiceName, respBody, &imResp); err != nil {
		return nil, err
	}
	if !imResp.Success {
		return nil, apperr.Provider(imgurServiceName, "上传失败，请检查 Client ID 是否正确")
	}
	if imResp.Data == nil || imResp.Data.Link == "" {
		return nil, apperr.Provider(imgurServiceName, "API 未返回数据")
	}

	p.progress(req.ID, 100, "上传完成", 3, 3)
	log.Printf("[Imgur] 上传成功 - URL: %s", imResp.Data.Link)
	return &UploadResult{
		URL:  imResp.Data.Link,
		Size: int64(len(req.Data)),
		ETag: imResp.Data.DeleteHash,
	}, nil
}
