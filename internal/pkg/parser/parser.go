/*
 * @Description: 图床/对象存储响应的容错解析
 * @Author: 安知鱼
 * @Date: 2026-01-15 09:42:11
 * @LastEditTime: 2026-02-09 15:33:08
 * @LastEditors: 安知鱼
 */
package parser

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
)

// 各家图床的响应形态千差万别：JSON 字段名不统一、XML 标签格式不固定，
// 会话过期时还会直接返回一张 HTML 登录页。这里统一做三分类：
// 结构化成功、携带错误码的结构化失败、无法解析的垃圾。

// looksLikeHTML 判断响应体是否是一个 HTML 文档。
// 在期望 JSON 的地方收到 HTML，几乎总是会话过期被重定向到了登录页。
func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	lower := strings.ToLower(string(trimmed[:min(64, len(trimmed))]))
	return strings.HasPrefix(lower, "<!doctype html") ||
		strings.HasPrefix(lower, "<html")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DecodeJSON 将响应体解析到 v。
// 收到 HTML 时返回认证错误（提示重新登录），其余解析失败返回内部错误。
func DecodeJSON(service string, body []byte, v any) error {
	if looksLikeHTML(body) {
		return apperr.Auth("%s 返回了登录页面而非 JSON，会话可能已过期，请重新认证", service)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Internal("%s 响应解析失败: %v", service, err)
	}
	return nil
}

// Envelope 是国内图床最常见的 {code, msg, data} 信封。
type Envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope 解析信封并校验业务码。code != 0 时返回携带该码的图床错误。
func DecodeEnvelope(service string, body []byte) (*Envelope, error) {
	var env Envelope
	if err := DecodeJSON(service, body, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		msg := env.Msg
		if msg == "" {
			msg = "未知错误"
		}
		return nil, apperr.ProviderWithCode(service, env.Code, msg)
	}
	return &env, nil
}

// uploadIDPattern 容忍标签内的空白与 CRLF 差异，
// 作为结构化解析失败时的兜底。
var uploadIDPattern = regexp.MustCompile(`(?s)<UploadId\s*>\s*([^<\s]+)\s*</UploadId\s*>`)

type initUploadJSON struct {
	UploadID string `json:"UploadId"`
}

type initUploadXML struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	UploadID string   `xml:"UploadId"`
}

// ExtractUploadID 从分片上传初始化响应中提取 UploadId。
// TOS 网关历史上既返回过 JSON 也返回过 XML；XML 先走结构化解析，
// 格式异常时退回正则匹配。
func ExtractUploadID(service string, body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", apperr.Internal("%s 初始化响应为空", service)
	}

	if trimmed[0] == '{' {
		var parsed initUploadJSON
		if err := DecodeJSON(service, trimmed, &parsed); err != nil {
			return "", err
		}
		if parsed.UploadID == "" {
			return "", apperr.Internal("%s JSON 响应中没有 UploadId: %s", service, truncate(trimmed))
		}
		return parsed.UploadID, nil
	}

	if looksLikeHTML(trimmed) {
		return "", apperr.Auth("%s 返回了登录页面而非初始化结果，会话可能已过期", service)
	}

	var parsed initUploadXML
	if err := xml.Unmarshal(trimmed, &parsed); err == nil && parsed.UploadID != "" {
		return parsed.UploadID, nil
	}
	if m := uploadIDPattern.FindSubmatch(trimmed); m != nil {
		return string(m[1]), nil
	}
	return "", apperr.Internal("%s 无法从响应中解析 UploadId: %s", service, truncate(trimmed))
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
