/*
 * @Description: 统一应用错误类型，覆盖所有上传与存储服务
 * @Author: 安知鱼
 * @Date: 2026-01-10 14:22:30
 * @LastEditTime: 2026-02-03 18:40:12
 * @LastEditors: 安知鱼
 */
package apperr

import (
	"errors"
	"fmt"
)

// Kind 标识错误的类别，前端通过它进行差异化处理。
type Kind string

const (
	// KindNetwork 网络错误：连接失败、超时、DNS 解析失败等，可有限重试
	KindNetwork Kind = "NETWORK"
	// KindAuth 认证错误：Cookie/Token 过期、凭证无效、签名被拒绝等，禁止自动重试
	KindAuth Kind = "AUTH"
	// KindValidation 验证错误：文件过大、扩展名不支持、参数缺失等
	KindValidation Kind = "VALIDATION"
	// KindProvider 图床返回的结构化业务错误，携带服务商自身的错误码
	KindProvider Kind = "PROVIDER"
	// KindStorage 对象存储错误：存储桶不存在、签名不匹配等
	KindStorage Kind = "STORAGE"
	// KindConfig 配置错误：配置缺失或无效
	KindConfig Kind = "CONFIG"
	// KindInternal 内部错误：响应解析失败、HMAC 构造失败等
	KindInternal Kind = "INTERNAL"
)

// Error 是全应用统一的错误结构。
// Service 标识出错的服务商（如 "Nami"、"S3"），Code 保留服务商自己的错误码。
type Error struct {
	Kind    Kind   `json:"type"`
	Service string `json:"service,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Service != "" && e.Code != 0:
		return fmt.Sprintf("%s 错误 [%d]: %s", e.Service, e.Code, e.Message)
	case e.Service != "":
		return fmt.Sprintf("%s 错误: %s", e.Service, e.Message)
	default:
		return e.Message
	}
}

// Unwrap 让 errors.Is / errors.As 能够访问底层错误。
func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable 返回该错误是否值得自动重试。
// 只有网络级错误可重试；认证与签名错误重试不可能成功。
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork
}

// New 创建一个指定类别的错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 创建一个包装了底层错误的错误。
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Network 创建网络错误。
func Network(format string, args ...any) *Error {
	return &Error{Kind: KindNetwork, Message: fmt.Sprintf(format, args...)}
}

// Auth 创建认证错误。
func Auth(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

// Validation 创建验证错误。
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Provider 创建图床业务错误。
func Provider(service string, message string) *Error {
	return &Error{Kind: KindProvider, Service: service, Message: message}
}

// ProviderWithCode 创建携带服务商错误码的图床业务错误。
func ProviderWithCode(service string, code int, message string) *Error {
	return &Error{Kind: KindProvider, Service: service, Code: code, Message: message}
}

// Storage 创建对象存储错误。
func Storage(format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...)}
}

// Config 创建配置错误。
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// Internal 创建内部错误。
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// KindOf 返回任意 error 的类别。非 *Error 的错误一律视为内部错误。
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsRetryable 判断任意 error 是否可重试，供重试装饰器作为谓词使用。
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return false
}
