/*
 * @Description: 上传策略领域模型
 * @Author: 安知鱼
 * @Date: 2026-01-11 16:40:22
 * @LastEditTime: 2026-02-12 11:08:47
 * @LastEditors: 安知鱼
 */
package model

import (
	"github.com/anzhiyu-c/picnexus-server/pkg/constant"
)

// PolicySettings 承载各服务商的差异化配置（限速、分片大小等）。
type PolicySettings map[string]interface{}

// GetString 是一个辅助方法，用于从 settings map 中安全地获取字符串值。
// 如果键不存在，或者值的类型不是字符串，则返回提供的默认值。
func (s PolicySettings) GetString(key, defaultValue string) string {
	if val, ok := s[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// GetInt safely retrieves an integer value from the settings map.
func (s PolicySettings) GetInt(key string, defaultValue int) int {
	if value, ok := s[key]; ok {
		if floatVal, isFloat := value.(float64); isFloat {
			return int(floatVal)
		}
		if intVal, isInt := value.(int); isInt {
			return intVal
		}
	}
	return defaultValue
}

// GetFloat safely retrieves a float value from the settings map.
func (s PolicySettings) GetFloat(key string, defaultValue float64) float64 {
	if val, ok := s[key].(float64); ok {
		return val
	}
	return defaultValue
}

// GetBool safely retrieves a boolean value from the settings map.
func (s PolicySettings) GetBool(key string, defaultValue bool) bool {
	if val, ok := s[key].(bool); ok {
		return val
	}
	return defaultValue
}

// UploadPolicy 描述一次上传面向的服务商及其凭证与目标位置。
// 凭证由调用方提供，本服务从不自行生成；TOS 策略的凭证是 STS 短期凭证，
// 每个上传会话需要重新获取。
type UploadPolicy struct {
	Name       string                `json:"name"`
	Type       constant.ProviderType `json:"type"`
	Server     string                `json:"server"`      // 区域名或完整 endpoint URL
	BucketName string                `json:"bucket_name"` // 对象存储的桶；GitHub 策略下是 "owner/repo"
	AccessKey  string                `json:"access_key"`
	SecretKey  string                `json:"secret_key"`
	BasePath   string                `json:"base_path"`  // 远端基础目录 / 对象键前缀
	CDNDomain  string                `json:"cdn_domain"` // 公开访问域名，空时回退到 endpoint 拼接
	MaxSize    int64                 `json:"max_size"`   // 单文件大小上限（字节），0 为不限制
	Settings   PolicySettings        `json:"settings"`
}

// KeyPrefix 返回用于构造对象键的前缀，默认 "web"。
func (p *UploadPolicy) KeyPrefix() string {
	if p.BasePath == "" {
		return "web"
	}
	return p.BasePath
}
