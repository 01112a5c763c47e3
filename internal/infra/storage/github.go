/*
 * @Description: GitHub 仓库图床驱动（Contents API）
 * @Author: 安知鱼
 * @Date: 2026-01-25 15:40:12
 * @LastEditTime: 2026-02-15 20:10:45
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/parser"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/signer"
	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
)

const (
	githubServiceName = "GitHub"
	githubAPIBase     = "https://api.github.com"

	// GitHub Contents API 对单文件的限制
	githubMaxFileSize = 25 * 1024 * 1024

	settingGithubBranch = "branch"
)

// githubRepoOf 从策略的 BucketName（"owner/repo" 形式）拆出仓库坐标。
func githubRepoOf(policy *model.UploadPolicy) (owner, repo string) {
	parts := strings.SplitN(policy.BucketName, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// githubUploadBody 是 Contents API 的请求体。
type githubUploadBody struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
}

// githubUploadResponse 只取响应中需要的字段。
type githubUploadResponse struct {
	Content struct {
		DownloadURL string `json:"download_url"`
		SHA         string `json:"sha"`
	} `json:"content"`
}

// GithubProvider 实现了 IUploadProvider 接口，
// 通过 Contents API 将文件以 Base64 形式提交进仓库。
type GithubProvider struct {
	client   *http.Client
	progress ProgressFunc
}

// NewGithubProvider 是 GithubProvider 的构造函数。
func NewGithubProvider(client *http.Client, progress ProgressFunc) *GithubProvider {
	if progress == nil {
		progress = NopProgress
	}
	return &GithubProvider{client: client, progress: progress}
}

// Upload 将文件提交到策略指定的仓库分支。
// 远端路径为 BasePath/文件名，URL 逐段编码以保留路径分隔符。
func (p *GithubProvider) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	owner, repo := githubRepoOf(req.Policy)
	token := req.Policy.SecretKey
	if owner == "" || repo == "" || token == "" {
		return nil, apperr.Config("GitHub 策略缺少仓库（owner/repo）或 Token")
	}
	branch := req.Policy.Settings.GetString(settingGithubBranch, "main")

	if len(req.Data) == 0 {
		return nil, apperr.Validation("文件内容为空")
	}
	if int64(len(req.Data)) > githubMaxFileSize {
		return nil, apperr.Validation("文件大小 (%.2fMB) 超过 GitHub API 限制 (25MB)",
			float64(len(req.Data))/1024/1024)
	}

	p.progress(req.ID, 0, "编码文件...", 1, 3)
	content := base64.StdEncoding.EncodeToString(req.Data)

	remotePath := req.FileName
	if base := strings.Trim(req.Policy.BasePath, "/"); base != "" {
		remotePath = base + "/" + req.FileName
	}
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		githubAPIBase, owner, repo, signer.EncodePath(remotePath))

	payload, err := json.Marshal(githubUploadBody{
		Message: fmt.Sprintf("Upload %s via PicNexus", req.FileName),
		Content: content,
		Branch:  branch,
	})
	if err != nil {
		return nil, apperr.Internal("构造请求体失败: %v", err)
	}

	p.progress(req.ID, 33, "正在上传...", 2, 3)
	log.Printf("[GitHub] 开始上传到 %s/%s, path: %s", owner, repo, remotePath)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Internal("构造请求失败: %v", err)
	}
	httpReq.Header.Set("Authorization", "token "+token)
	httpReq.Header.Set("User-Agent", "PicNexus")
	httpReq.Header.Set("Accept", "application/vnd.github.v3+json")
	httpReq.Header.Set("Content-Type", "application/json")

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
			return nil, apperr.Auth("GitHub 认证失败：Token 无效或已过期")
		case http.StatusForbidden:
			return nil, apperr.Auth("GitHub API 频率限制：请稍后再试")
		case http.StatusNotFound:
			return nil, apperr.Storage("GitHub 仓库或分支不存在，请检查配置")
		case http.StatusUnprocessableEntity:
			return nil, apperr.Validation("GitHub 上传失败：文件过大或存在验证错误")
		}
		return nil, apperr.Provider(githubServiceName,
			fmt.Sprintf("上传失败 (HTTP %d): %s", resp.StatusCode, respBody))
	}

	var ghResp githubUploadResponse
	if err := parser.DecodeJSON(githubServiceName, respBody, &ghResp); err != nil {
		return nil, err
	}
	if ghResp.Content.DownloadURL == "" {
		return nil, apperr.Provider(githubServiceName, "响应中没有 download_url")
	}

	p.progress(req.ID, 100, "上传完成", 3, 3)
	log.Printf("[GitHub] 上传成功 - URL: %s", ghResp.Content.DownloadURL)

	url = ghResp.Content.DownloadURL
	// 配置了 CDN（如 jsDelivr）时改写为 CDN URL
	if cdn := strings.TrimSuffix(req.Policy.CDNDomain, "/"); cdn != "" {
		url = fmt.Sprintf("%s/%s", cdn, remotePath)
	}
	return &UploadResult{
		URL:  url,
		Key:  remotePath,
		Size: int64(len(req.Data)),
		ETag: ghResp.Content.SHA,
	}, nil
}

// TestConnection 读取仓库元数据验证 Token 与仓库配置，不写入任何数据。
func (p *GithubProvider) TestConnection(ctx context.Context, policy *model.UploadPolicy) (string, error) {
	owner, repo := githubRepoOf(policy)
	if owner == "" || repo == "" || policy.SecretKey == "" {
		return "", apperr.Config("GitHub 策略缺少仓库（owner/repo）或 Token")
	}

	url := fmt.Sprintf("%s/repos/%s/%s", githubAPIBase, owner, repo)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperr.Internal("构造请求失败: %v", err)
	}
	httpReq.Header.Set("Authorization", "token "+policy.SecretKey)
	httpReq.Header.Set("User-Agent", "PicNexus")
	httpReq.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNetwork, fmt.Sprintf("请求失败: %v", err), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", apperr.Auth("GitHub 认证失败：Token 无效或已过期")
	case resp.StatusCode == http.StatusNotFound:
		return "", apperr.Storage("GitHub 仓库不存在: %s/%s", owner, repo)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", apperr.Provider(githubServiceName, fmt.Sprintf("请求失败 (HTTP %d)", resp.StatusCode))
	}
	return fmt.Sprintf("连接成功: 仓库 %s/%s 可访问", owner, repo), nil
}
