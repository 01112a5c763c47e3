/*
 * @Description: 上传接口：接收 multipart 文件并分发给对应驱动
 * @Author: 安知鱼
 * @Date: 2026-01-29 10:14:52
 * @LastEditTime: 2026-02-17 14:20:31
 * @LastEditors: 安知鱼
 */
package upload_handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
	"github.com/anzhiyu-c/picnexus-server/pkg/response"
	"github.com/anzhiyu-c/picnexus-server/pkg/service/uploader"
)

// 服务端拒绝超过 256MB 的请求体，防止内存被单个请求打爆。
// 各驱动还有自己更严格的限制（SM.MS 5MB、GitHub 25MB 等）。
const maxUploadBytes = 256 * 1024 * 1024

// UploadHandler 负责处理所有与上传相关的HTTP请求
type UploadHandler struct {
	svc uploader.IUploaderService
}

// NewUploadHandler 是 UploadHandler 的构造函数
func NewUploadHandler(svc uploader.IUploaderService) *UploadHandler {
	return &UploadHandler{svc: svc}
}

// uploadResponse 是上传成功时返回的数据。
type uploadResponse struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Key     string `json:"key,omitempty"`
	Size    int64  `json:"size"`
	ETag    string `json:"etag,omitempty"`
	Instant bool   `json:"instant"`
}

// Upload 处理文件上传请求。
//
// multipart 表单字段:
//   - file:   文件内容（必填）
//   - policy: JSON 编码的上传策略（必填，凭证随策略传入）
//   - auth:   JSON 编码的动态会话头部（可选，TOS 的 zm-token 等）
//   - id:     客户端指定的任务 ID（可选，便于上传期间轮询进度）
func (h *UploadHandler) Upload(c *gin.Context) {
	provider := constant.ProviderType(c.Param("provider"))
	if !provider.IsValid() {
		response.Fail(c, http.StatusBadRequest, "不支持的服务商类型: "+string(provider))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "缺少 file 字段: "+err.Error())
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "读取文件失败: "+err.Error())
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "读取文件失败: "+err.Error())
		return
	}

	policyJSON := c.PostForm("policy")
	if policyJSON == "" {
		response.Fail(c, http.StatusBadRequest, "缺少 policy 字段")
		return
	}
	var policy model.UploadPolicy
	if err := json.Unmarshal([]byte(policyJSON), &policy); err != nil {
		response.Fail(c, http.StatusBadRequest, "policy 不是合法的 JSON: "+err.Error())
		return
	}

	var auth map[string]string
	if authJSON := c.PostForm("auth"); authJSON != "" {
		if err := json.Unmarshal([]byte(authJSON), &auth); err != nil {
			response.Fail(c, http.StatusBadRequest, "auth 不是合法的 JSON: "+err.Error())
			return
		}
	}

	id := c.PostForm("id")
	if id == "" {
		id = h.svc.NewUploadID()
	}

	result, err := h.svc.Upload(c.Request.Context(), id, provider, fileHeader.Filename, data, &policy, auth)
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	response.Success(c, uploadResponse{
		ID:      id,
		URL:     result.URL,
		Key:     result.Key,
		Size:    result.Size,
		ETag:    result.ETag,
		Instant: result.Instant,
	}, "上传成功")
}

// Progress 返回指定上传任务的最近一条进度快照。
func (h *UploadHandler) Progress(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.Fail(c, http.StatusBadRequest, "缺少任务 ID")
		return
	}
	p, ok := h.svc.Progress(c.Request.Context(), id)
	if !ok {
		response.Fail(c, http.StatusNotFound, "没有该任务的进度记录")
		return
	}
	response.Success(c, p, "获取成功")
}
