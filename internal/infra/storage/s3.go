/*
 * @Description: Cloudflare R2 与 S3 兼容存储驱动（使用 aws-sdk-go-v2）
 * @Author: 安知鱼
 * @Date: 2026-01-18 19:00:00
 * @LastEditTime: 2026-02-15 18:30:00
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/retry"
	"github.com/anzhiyu-c/picnexus-server/internal/pkg/utils"
	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Provider 实现了 IUploadProvider 和 IObjectManager 接口，
// 处理与 Cloudflare R2 及任意 S3 兼容存储的所有交互。
// SDK 内部完成 AWS4-HMAC-SHA256 签名，与 internal/pkg/signer 的
// AWS4 预设遵循同一协议。
type S3Provider struct {
	progress ProgressFunc
}

// NewS3Provider 是 S3Provider 的构造函数。
func NewS3Provider(progress ProgressFunc) *S3Provider {
	if progress == nil {
		progress = NopProgress
	}
	return &S3Provider{progress: progress}
}

// getClient 根据策略构建 S3 客户端。
// Server 字段可能是区域名（"us-west-2"）、完整 endpoint URL，
// 或 R2 的 "https://<account>.r2.cloudflarestorage.com"。
func (p *S3Provider) getClient(ctx context.Context, policy *model.UploadPolicy) (*s3.Client, error) {
	if policy.BucketName == "" {
		return nil, apperr.Config("S3 策略缺少存储桶名称")
	}
	if policy.AccessKey == "" || policy.SecretKey == "" {
		return nil, apperr.Config("S3 策略缺少 AccessKey 或 SecretKey")
	}

	region := "auto"
	var customEndpoint string
	if policy.Server != "" {
		if strings.HasPrefix(policy.Server, "http") {
			customEndpoint = policy.Server
			// 尝试从 amazonaws.com 风格的域名中提取区域
			if parsed, err := url.Parse(policy.Server); err == nil && strings.Contains(parsed.Host, "amazonaws.com") {
				parts := strings.Split(parsed.Host, ".")
				if len(parts) >= 4 && strings.HasPrefix(parts[0], "s3") {
					region = parts[1]
				}
			}
		} else {
			region = policy.Server
		}
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			policy.AccessKey, policy.SecretKey, "")),
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperr.Config("加载 S3 配置失败: %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if customEndpoint != "" {
			o.BaseEndpoint = aws.String(customEndpoint)
		}
		// 路径风格寻址对自建 S3 兼容存储的兼容性更好
		o.UsePathStyle = policy.Settings.GetBool(constant.SettingForcePathStyle, true)
	})
	return client, nil
}

// friendlyS3Error 把 SDK 错误翻译成对用户有意义的提示。
func friendlyS3Error(policy *model.UploadPolicy, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchBucket"):
		return apperr.Storage("存储桶不存在: %s", policy.BucketName)
	case strings.Contains(msg, "AccessDenied"), strings.Contains(msg, "InvalidAccessKeyId"):
		return apperr.Auth("认证失败: 请检查 Access Key ID 和 Secret Access Key")
	case strings.Contains(msg, "SignatureDoesNotMatch"):
		return apperr.Auth("签名错误: 请检查 Secret Access Key 是否正确")
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return apperr.Wrap(apperr.KindNetwork, "网络错误: "+msg, err)
	default:
		return apperr.Wrap(apperr.KindStorage, "S3 操作失败: "+msg, err)
	}
}

// publicURL 构建对象的公开访问 URL。
// 配置了 CDN 域名时优先使用，否则回退为 endpoint/bucket/key 拼接。
func (p *S3Provider) publicURL(policy *model.UploadPolicy, key string) string {
	if policy.CDNDomain != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(policy.CDNDomain, "/"), key)
	}
	server := strings.TrimSuffix(policy.Server, "/")
	return fmt.Sprintf("%s/%s/%s", server, policy.BucketName, key)
}

// Upload 将文件通过 PutObject 上传到存储桶。
func (p *S3Provider) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if len(req.Data) == 0 {
		return nil, apperr.Validation("文件内容为空")
	}
	if req.Policy.MaxSize > 0 && int64(len(req.Data)) > req.Policy.MaxSize {
		return nil, apperr.Validation("文件大小 (%.2fMB) 超过策略限制 (%.2fMB)",
			float64(len(req.Data))/1024/1024, float64(req.Policy.MaxSize)/1024/1024)
	}

	p.progress(req.ID, 0, "创建客户端...", 1, 3)
	client, err := p.getClient(ctx, req.Policy)
	if err != nil {
		return nil, err
	}

	key := utils.ObjectKey(req.Policy.KeyPrefix(), req.Data, req.FileName)
	contentType := utils.ContentTypeByExt(utils.FileExt(req.FileName))
	log.Printf("[S3] 开始上传到存储桶 %s, key: %s", req.Policy.BucketName, key)

	p.progress(req.ID, 33, "正在上传...", 2, 3)
	out, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(req.Policy.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(req.Data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, friendlyS3Error(req.Policy, err)
	}

	p.progress(req.ID, 100, "上传完成", 3, 3)
	result := &UploadResult{
		URL:  p.publicURL(req.Policy, key),
		Key:  key,
		Size: int64(len(req.Data)),
	}
	if out.ETag != nil {
		result.ETag = strings.Trim(*out.ETag, `"`)
	}
	log.Printf("[S3] 上传成功 - Key: %s, ETag: %s", key, result.ETag)
	return result, nil
}

// TestConnection 发起一次 MaxKeys=1 的列举验证凭证与桶配置。
// 只读探测，网络抖动时带退避重试。
func (p *S3Provider) TestConnection(ctx context.Context, policy *model.UploadPolicy) (string, error) {
	client, err := p.getClient(ctx, policy)
	if err != nil {
		return "", err
	}

	probe := func(ctx context.Context) error {
		_, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(policy.BucketName),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return friendlyS3Error(policy, err)
		}
		return nil
	}
	if err := retry.Do(ctx, retry.DefaultOptions(apperr.IsRetryable), "S3连接测试", probe); err != nil {
		return "", err
	}
	return fmt.Sprintf("连接成功: 存储桶 %s 可访问", policy.BucketName), nil
}

// ListObjects 列举指定前缀下的对象，支持续传令牌翻页。
func (p *S3Provider) ListObjects(ctx context.Context, policy *model.UploadPolicy, prefix, continuationToken string, maxKeys int) (*ListResult, error) {
	client, err := p.getClient(ctx, policy)
	if err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(policy.BucketName),
		Delimiter: aws.String("/"),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}
	if maxKeys > 0 {
		input.MaxKeys = aws.Int32(int32(maxKeys))
	}

	out, err := client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, friendlyS3Error(policy, err)
	}

	result := &ListResult{}
	for _, obj := range out.Contents {
		info := ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
		if obj.ETag != nil {
			info.ETag = strings.Trim(*obj.ETag, `"`)
		}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
		}
		result.Objects = append(result.Objects, info)
	}
	for _, cp := range out.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	if aws.ToBool(out.IsTruncated) {
		result.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return result, nil
}

// DeleteObject 删除单个对象，网络抖动时带退避重试。
func (p *S3Provider) DeleteObject(ctx context.Context, policy *model.UploadPolicy, key string) error {
	client, err := p.getClient(ctx, policy)
	if err != nil {
		return err
	}

	del := func(ctx context.Context) error {
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(policy.BucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			return friendlyS3Error(policy, err)
		}
		return nil
	}
	return retry.Do(ctx, retry.DefaultOptions(apperr.IsRetryable), "S3删除对象", del)
}

// DeleteObjects 使用 DeleteObjects 批量接口删除多个对象，
// 返回逐键的成功/失败结果。
func (p *S3Provider) DeleteObjects(ctx context.Context, policy *model.UploadPolicy, keys []string) (*BatchDeleteResult, error) {
	if len(keys) == 0 {
		return &BatchDeleteResult{}, nil
	}
	client, err := p.getClient(ctx, policy)
	if err != nil {
		return nil, err
	}

	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	out, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(policy.BucketName),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(false)},
	})
	if err != nil {
		return nil, friendlyS3Error(policy, err)
	}

	result := &BatchDeleteResult{}
	failed := make(map[string]struct{}, len(out.Errors))
	for _, e := range out.Errors {
		key := aws.ToString(e.Key)
		failed[key] = struct{}{}
		result.Failed = append(result.Failed, key)
		log.Printf("[S3] 删除失败 %s: %s", key, aws.ToString(e.Message))
	}
	for _, key := range keys {
		if _, ok := failed[key]; !ok {
			result.Succeeded = append(result.Succeeded, key)
		}
	}
	return result, nil
}
