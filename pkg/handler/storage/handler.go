/*
 * @Description: 远端对象管理接口：连接测试、列举与删除
 * @Author: 安知鱼
 * @Date: 2026-01-29 11:40:08
 * @LastEditTime: 2026-02-17 15:02:44
 * @LastEditors: 安知鱼
 */
package storage_handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/picnexus-server/pkg/domain/model"
	"github.com/anzhiyu-c/picnexus-server/pkg/response"
	"github.com/anzhiyu-c/picnexus-server/pkg/service/uploader"
)

// StorageHandler 负责处理所有与远端对象管理相关的HTTP请求
type StorageHandler struct {
	svc uploader.IUploaderService
}

// NewStorageHandler 是 StorageHandler 的构造函数
func NewStorageHandler(svc uploader.IUploaderService) *StorageHandler {
	return &StorageHandler{svc: svc}
}

// TestConnectionRequest 是连接测试的请求体
type TestConnectionRequest struct {
	Policy model.UploadPolicy `json:"policy" binding:"required"`
}

// TestConnection 验证策略凭证的有效性，不写入任何数据。
func (h *StorageHandler) TestConnection(c *gin.Context) {
	var req TestConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "参数无效: "+err.Error())
		return
	}

	msg, err := h.svc.TestConnection(c.Request.Context(), &req.Policy)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.Success(c, gin.H{"message": msg}, "连接测试通过")
}

// ListObjectsRequest 是对象列举的请求体
type ListObjectsRequest struct {
	Policy  model.UploadPolicy `json:"policy" binding:"required"`
	Prefix  string             `json:"prefix"`
	Token   string             `json:"token"`
	MaxKeys int                `json:"max_keys"`
}

// ListObjects 列举远端对象。
func (h *StorageHandler) ListObjects(c *gin.Context) {
	var req ListObjectsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "参数无效: "+err.Error())
		return
	}

	result, err := h.svc.ListObjects(c.Request.Context(), &req.Policy, req.Prefix, req.Token, req.MaxKeys)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.Success(c, result, "获取成功")
}

// DeleteObjectRequest 是单对象删除的请求体
type DeleteObjectRequest struct {
	Policy model.UploadPolicy `json:"policy" binding:"required"`
	Key    string             `json:"key" binding:"required"`
}

// DeleteObject 删除单个远端对象。
func (h *StorageHandler) DeleteObject(c *gin.Context) {
	var req DeleteObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "参数无效: "+err.Error())
		return
	}

	if err := h.svc.DeleteObject(c.Request.Context(), &req.Policy, req.Key); err != nil {
		response.FailWithError(c, err)
		return
	}
	response.Success(c, nil, "删除成功")
}

// DeleteObjectsRequest 是批量删除的请求体
type DeleteObjectsRequest struct {
	Policy model.UploadPolicy `json:"policy" binding:"required"`
	Keys   []string           `json:"keys" binding:"required"`
}

// DeleteObjects 批量删除远端对象，返回逐键的成功与失败结果。
func (h *StorageHandler) DeleteObjects(c *gin.Context) {
	var req DeleteObjectsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "参数无效: "+err.Error())
		return
	}
	if len(req.Keys) == 0 {
		response.Fail(c, http.StatusBadRequest, "keys 不能为空")
		return
	}

	result, err := h.svc.DeleteObjects(c.Request.Context(), &req.Policy, req.Keys)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.Success(c, result, "批量删除完成")
}
