/*
 * @Description: 纳米图床驱动（火山引擎 TOS 对象存储，TOS4-HMAC-SHA256 签名 + 分片上传）
 * @Author: 安知鱼
 * @Date: 2026-01-21 10:12:40
 * @LastEditTime: 2026-02-16 21:48:33
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/parser"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/retry"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/signer"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/utils"
	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
	"golang.org/x/time/rate"
)

// --- 常量定义 ---

const (
	tosServiceName = "Nami"
	tosService     = "tos"

	defaultTOSHost     = "n-so.tos-cn-shanghai.volces.com"
	defaultTOSRegion   = "tos-cn-shanghai"
	defaultTOSCDNBase  = "https://bfns.zhaomi.cn"
	defaultSTSEndpoint = "https://www.n.cn/api/byte/assumerole?appsource=so"

	// 分片大小默认 8MiB；TOS 要求除最后一片外每片不小于 5MiB
	defaultPartSize = 8 * 1024 * 1024
	minPartSize     = 5 * 1024 * 1024

	// 秒传探测是纯优化，失败快速放弃
	existsProbeTimeout = 5 * time.Second

	// 策略 Settings 中 TOS 专属的配置键
	settingTOSRegion   = "region"
	settingSTSEndpoint = "sts_endpoint"
	settingCookie      = "cookie"
	settingAuthToken   = "auth_token"
)

// stsCredentials 是 STS 接口返回的短期凭证。
type stsCredentials struct {
	AccessKey       string `json:"access_key"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	ExpireIn        int64  `json:"expire_in"`
}

// completedPart 记录一个已上传分片的序号和 ETag。
type completedPart struct {
	PartNumber int    `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// --- API 限速器相关 ---

var (
	tosLimiters      = make(map[string]*rate.Limiter)
	tosLimitersMutex = &sync.RWMutex{}
)

// rateLimitedTransport 是一个自定义的 http.RoundTripper，它在执行每个请求前会等待限速器的许可。
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// RoundTrip 实现了 http.RoundTripper 接口，并在此处插入限速逻辑。
func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// getOrCreateTOSLimiter 根据策略配置获取或创建一个限速器。
func getOrCreateTOSLimiter(policy *model.UploadPolicy) *rate.Limiter {
	rps := policy.Settings.GetFloat(constant.SettingRequestsPerSecond, 0)
	if rps <= 0 {
		return nil
	}
	burst := policy.Settings.GetInt(constant.SettingBurstSize, 0)
	if burst <= 0 {
		burst = 1
	}

	tosLimitersMutex.RLock()
	limiter, ok := tosLimiters[policy.Name]
	tosLimitersMutex.RUnlock()
	if ok {
		return limiter
	}

	tosLimitersMutex.Lock()
	defer tosLimitersMutex.Unlock()
	if limiter, ok = tosLimiters[policy.Name]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rps), burst)
	tosLimiters[policy.Name] = limiter
	return limiter
}

// --- 驱动实现 ---

// TOSProvider 实现了 IUploadProvider 接口，处理纳米图床的完整上传链路：
// 内容哈希 -> CDN 秒传探测 -> STS 取凭证 -> 初始化分片 -> 逐片上传 -> 完成。
// 所有签名调用共用 internal/pkg/signer 的 TOS4 预设。
type TOSProvider struct {
	client   *http.Client
	progress ProgressFunc
	tracker  *SessionTracker
}

// NewTOSProvider 是 TOSProvider 的构造函数。
// HTTP 客户端与进度上报均由外部注入，驱动自身不持有全局状态。
func NewTOSProvider(client *http.Client, progress ProgressFunc, tracker *SessionTracker) *TOSProvider {
	if progress == nil {
		progress = NopProgress
	}
	return &TOSProvider{client: client, progress: progress, tracker: tracker}
}

// httpClient 返回应用了策略限速配置的客户端。
func (p *TOSProvider) httpClient(policy *model.UploadPolicy) *http.Client {
	limiter := getOrCreateTOSLimiter(policy)
	if limiter == nil {
		return p.client
	}
	base := p.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	limited := *p.client
	limited.Transport = &rateLimitedTransport{base: base, limiter: limiter}
	return &limited
}

func tosHost(policy *model.UploadPolicy) string {
	if policy.Server != "" {
		return strings.TrimPrefix(strings.TrimPrefix(policy.Server, "https://"), "http://")
	}
	return defaultTOSHost
}

func tosRegion(policy *model.UploadPolicy) string {
	return policy.Settings.GetString(settingTOSRegion, defaultTOSRegion)
}

func tosCDNBase(policy *model.UploadPolicy) string {
	if policy.CDNDomain != "" {
		return strings.TrimSuffix(policy.CDNDomain, "/")
	}
	return defaultTOSCDNBase
}

// Upload 执行一次完整上传。
//
// 网络级错误在整个签名序列的粒度上重试（重新取 STS 凭证、重新初始化），
// 绝不会只重试失败的那一步：STS 凭证是短期的，签名序列不可从中间恢复。
// 认证与签名错误立即终止，重试不可能成功。
func (p *TOSProvider) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if len(req.Data) == 0 {
		return nil, apperr.Validation("文件内容为空")
	}
	if req.Policy.MaxSize > 0 && int64(len(req.Data)) > req.Policy.MaxSize {
		return nil, apperr.Validation("文件大小 (%.2fMB) 超过策略限制 (%.2fMB)",
			float64(len(req.Data))/1024/1024, float64(req.Policy.MaxSize)/1024/1024)
	}

	key := utils.ObjectKey(req.Policy.KeyPrefix(), req.Data, req.FileName)
	publicURL := fmt.Sprintf("%s/%s", tosCDNBase(req.Policy), key)
	log.Printf("[Nami] 开始上传: %s, key: %s", req.FileName, key)

	client := p.httpClient(req.Policy)

	// 1. 秒传探测：对象键由内容决定，HEAD 命中即可跳过整个签名写入链路
	p.progress(req.ID, 0, "检查文件是否已存在...", 1, 5)
	if p.objectExists(ctx, client, publicURL) {
		log.Printf("[Nami] 文件已存在，秒传成功: %s", publicURL)
		return &UploadResult{
			URL:     publicURL,
			Key:     key,
			Size:    int64(len(req.Data)),
			Instant: true,
		}, nil
	}

	var result *UploadResult
	attempt := func(ctx context.Context) error {
		var err error
		result, err = p.uploadOnce(ctx, client, req, key, publicURL)
		return err
	}
	opts := retry.DefaultOptions(apperr.IsRetryable)
	if err := retry.Do(ctx, opts, "Nami上传", attempt); err != nil {
		return nil, err
	}

	log.Printf("[Nami] 上传成功: %s", publicURL)
	return result, nil
}

// uploadOnce 执行一次完整的签名上传序列。任何一步的非 2xx 响应都终止本次尝试。
func (p *TOSProvider) uploadOnce(ctx context.Context, client *http.Client, req *UploadRequest, key, publicURL string) (*UploadResult, error) {
	// 2. 获取 STS 短期凭证（每次尝试都重新获取）
	p.progress(req.ID, 20, "获取STS凭证中...", 2, 5)
	creds, err := p.fetchSTSCredentials(ctx, client, req.Policy, req.Auth, key)
	if err != nil {
		return nil, err
	}

	sg, err := signer.New(signer.SchemeTOS4, tosHost(req.Policy), tosRegion(req.Policy), tosService, creds)
	if err != nil {
		return nil, err
	}

	ext := utils.FileExt(req.FileName)
	contentType := utils.ContentTypeByExt(ext)

	// 3. 初始化分片上传
	p.progress(req.ID, 40, "初始化分片上传中...", 3, 5)
	uploadID, err := p.initMultipart(ctx, client, sg, req.Policy, key, contentType)
	if err != nil {
		return nil, err
	}

	session := MultipartSession{
		UploadID:  uploadID,
		Key:       key,
		Host:      tosHost(req.Policy),
		Region:    tosRegion(req.Policy),
		Creds:     creds,
		CreatedAt: time.Now(),
	}
	if p.tracker != nil {
		p.tracker.Track(session)
	}

	// 4. 逐片上传
	p.progress(req.ID, 60, "上传分片中...", 4, 5)
	parts, err := p.uploadParts(ctx, client, sg, req, key, uploadID)
	if err != nil {
		p.abandonSession(session)
		return nil, err
	}

	// 5. 完成上传。对象在这一步成功之前绝不可见
	p.progress(req.ID, 80, "完成上传中...", 5, 5)
	if err := p.completeMultipart(ctx, client, sg, req.Policy, key, uploadID, parts); err != nil {
		p.abandonSession(session)
		return nil, err
	}
	if p.tracker != nil {
		p.tracker.Untrack(uploadID)
	}

	return &UploadResult{
		URL:     publicURL,
		Key:     key,
		Size:    int64(len(req.Data)),
		Instant: false,
	}, nil
}

// objectExists 对公开 CDN URL 发起 HEAD 探测。任何错误都按不存在处理。
func (p *TOSProvider) objectExists(ctx context.Context, client *http.Client, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, existsProbeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// fetchSTSCredentials 调用站点的 assumerole 接口换取 TOS 短期凭证。
// 会话头部（Cookie、Token 等）来自策略配置，请求级 Auth 可覆盖。
func (p *TOSProvider) fetchSTSCredentials(ctx context.Context, client *http.Client, policy *model.UploadPolicy, auth map[string]string, key string) (signer.Credentials, error) {
	endpoint := policy.Settings.GetString(settingSTSEndpoint, defaultSTSEndpoint)
	body := "filename%5B0%5D=" + signer.EncodePath(key)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return signer.Credentials{}, apperr.Internal("构造 STS 请求失败: %v", err)
	}

	httpReq.Header.Set("accept", "*/*")
	httpReq.Header.Set("content-type", "application/x-www-form-urlencoded;charset=UTF-8")
	httpReq.Header.Set("origin", "https://www.n.cn")
	httpReq.Header.Set("referer", "https://www.n.cn/")
	httpReq.Header.Set("device-platform", "Web")
	if cookie := policy.Settings.GetString(settingCookie, ""); cookie != "" {
		httpReq.Header.Set("cookie", cookie)
	}
	if token := policy.Settings.GetString(settingAuthToken, ""); token != "" {
		httpReq.Header.Set("auth-token", token)
	}
	// 动态头部（zm-token、sid、request-id 等）由调用方提供，逐个透传
	for name, value := range auth {
		httpReq.Header.Set(name, value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return signer.Credentials{}, apperr.Wrap(apperr.KindNetwork, fmt.Sprintf("STS 请求失败: %v", err), err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return signer.Credentials{}, apperr.Network("读取 STS 响应失败: %v", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return signer.Credentials{}, apperr.Auth("Cookie 或 Auth-Token 已失效，请重新获取")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return signer.Credentials{}, apperr.Provider(tosServiceName, fmt.Sprintf("STS 请求失败 (HTTP %d): %s", resp.StatusCode, respBody))
	}

	env, err := parser.DecodeEnvelope(tosServiceName, respBody)
	if err != nil {
		return signer.Credentials{}, err
	}
	var sts stsCredentials
	if err := json.Unmarshal(env.Data, &sts); err != nil || sts.AccessKey == "" {
		return signer.Credentials{}, apperr.Internal("STS 响应中没有有效凭证: %s", respBody)
	}

	return signer.Credentials{
		AccessKeyID:  sts.AccessKey,
		SecretKey:    sts.SecretAccessKey,
		SessionToken: sts.SessionToken,
	}, nil
}

// signedDo 构造、签名并发出一个 TOS 请求。
// 发送的查询串直接取签名器的规范编码，保证与签名输入逐字节一致。
func (p *TOSProvider) signedDo(ctx context.Context, client *http.Client, sg *signer.Signer, policy *model.UploadPolicy, method, key string, query map[string]string, body []byte, contentType string) (*http.Response, error) {
	uri := "/" + key
	headers, err := sg.Sign(method, uri, query)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://%s/%s", tosHost(policy), signer.EncodePath(key))
	if qs := signer.CanonicalQuery(query); qs != "" {
		url += "?" + qs
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal("构造请求失败: %v", err)
	}
	for name, value := range headers {
		httpReq.Header.Set(name, value)
	}
	if contentType != "" {
		httpReq.Header.Set("content-type", contentType)
	}
	httpReq.ContentLength = int64(len(body))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, fmt.Sprintf("请求 %s %s 失败: %v", method, uri, err), err)
	}
	return resp, nil
}

// classifyTOSFailure 将签名调用的非 2xx 响应映射为错误类别。
func classifyTOSFailure(step string, status int, body []byte) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return apperr.Auth("%s被拒绝 (HTTP %d)：凭证已过期或签名无效", step, status)
	}
	return apperr.Provider(tosServiceName, fmt.Sprintf("%s失败 (HTTP %d): %s", step, status, body))
}

// initMultipart 发起签名 POST 获取上传会话 ID。
func (p *TOSProvider) initMultipart(ctx context.Context, client *http.Client, sg *signer.Signer, policy *model.UploadPolicy, key, contentType string) (string, error) {
	resp, err := p.signedDo(ctx, client, sg, policy, http.MethodPost, key, map[string]string{"uploads": ""}, nil, contentType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyTOSFailure("初始化分片上传", resp.StatusCode, body)
	}

	uploadID, err := parser.ExtractUploadID(tosServiceName, body)
	if err != nil {
		return "", err
	}
	log.Printf("[Nami] UploadId: %s", uploadID)
	return uploadID, nil
}

// partSizeFor 返回策略配置的分片大小，过小的配置会被钳到协议下限。
func partSizeFor(policy *model.UploadPolicy) int {
	size := policy.Settings.GetInt(constant.SettingPartSize, defaultPartSize)
	if size < minPartSize {
		size = minPartSize
	}
	return size
}

// uploadParts 将文件切分为固定大小的分片逐个上传，记录每片的 ETag。
// 分片串行上传：单个上传内部不做并行，简单且带宽通常已打满。
func (p *TOSProvider) uploadParts(ctx context.Context, client *http.Client, sg *signer.Signer, req *UploadRequest, key, uploadID string) ([]completedPart, error) {
	partSize := partSizeFor(req.Policy)
	total := len(req.Data)
	partCount := (total + partSize - 1) / partSize

	parts := make([]completedPart, 0, partCount)
	for i := 0; i < partCount; i++ {
		start := i * partSize
		end := start + partSize
		if end > total {
			end = total
		}
		partNumber := i + 1

		etag, err := p.uploadPart(ctx, client, sg, req.Policy, key, uploadID, partNumber, req.Data[start:end])
		if err != nil {
			return nil, err
		}
		parts = append(parts, completedPart{PartNumber: partNumber, ETag: etag})

		// 分片阶段的进度在 60%-80% 区间内按片数推进
		p.progress(req.ID, 60+20*partNumber/partCount, fmt.Sprintf("上传分片 %d/%d...", partNumber, partCount), 4, 5)
	}
	return parts, nil
}

// uploadPart 上传单个分片，返回远端 ETag。
func (p *TOSProvider) uploadPart(ctx context.Context, client *http.Client, sg *signer.Signer, policy *model.UploadPolicy, key, uploadID string, partNumber int, data []byte) (string, error) {
	query := map[string]string{
		"partNumber": strconv.Itoa(partNumber),
		"uploadId":   uploadID,
	}
	resp, err := p.signedDo(ctx, client, sg, policy, http.MethodPut, key, query, data, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", classifyTOSFailure(fmt.Sprintf("上传分片 %d ", partNumber), resp.StatusCode, body)
	}
	io.Copy(io.Discard, resp.Body)

	etag := resp.Header.Get("Etag")
	if etag == "" {
		return "", apperr.Internal("分片 %d 响应中没有 ETag", partNumber)
	}
	log.Printf("[Nami] Part %d ETag: %s", partNumber, etag)
	return etag, nil
}

// completeMultipart 提交有序的分片列表，使对象在公开 URL 上可见。
func (p *TOSProvider) completeMultipart(ctx context.Context, client *http.Client, sg *signer.Signer, policy *model.UploadPolicy, key, uploadID string, parts []completedPart) error {
	payload, err := json.Marshal(map[string][]completedPart{"Parts": parts})
	if err != nil {
		return apperr.Internal("构造完成请求体失败: %v", err)
	}

	resp, err := p.signedDo(ctx, client, sg, policy, http.MethodPost, key, map[string]string{"uploadId": uploadID}, payload, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return classifyTOSFailure("完成上传", resp.StatusCode, body)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// AbortSession 中止一个分片上传会话，释放远端暂存的分片。
func (p *TOSProvider) AbortSession(ctx context.Context, session MultipartSession) error {
	sg, err := signer.New(signer.SchemeTOS4, session.Host, session.Region, tosService, session.Creds)
	if err != nil {
		return err
	}
	query := map[string]string{"uploadId": session.UploadID}
	headers, err := sg.Sign(http.MethodDelete, "/"+session.Key, query)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/%s?%s", session.Host, signer.EncodePath(session.Key), signer.CanonicalQuery(query))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return apperr.Internal("构造中止请求失败: %v", err)
	}
	for name, value := range headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return apperr.Network("中止分片会话失败: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return apperr.Provider(tosServiceName, fmt.Sprintf("中止分片会话失败 (HTTP %d)", resp.StatusCode))
	}
	if p.tracker != nil {
		p.tracker.Untrack(session.UploadID)
	}
	return nil
}

// abandonSession 在上传序列失败后尽力中止会话。
// 中止本身失败只记日志：会话仍留在追踪器里，交给定时清理兜底。
func (p *TOSProvider) abandonSession(session MultipartSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.AbortSession(ctx, session); err != nil {
		log.Printf("[Nami] 中止会话 %s 失败（等待定时清理）: %v", session.UploadID, err)
	}
}

// TestConnection 通过实际获取一次 STS 凭证来验证站点会话的有效性，不写入任何数据。
func (p *TOSProvider) TestConnection(ctx context.Context, policy *model.UploadPolicy) (string, error) {
	client := p.httpClient(policy)
	testKey := policy.KeyPrefix() + "/test.png"
	if _, err := p.fetchSTSCredentials(ctx, client, policy, nil, testKey); err != nil {
		return "", err
	}
	return "纳米 Cookie 和 Auth-Token 有效，连接成功", nil
}
