/*
 * @Description: SigV4 规范请求（Canonical Request）构造
 * @Author: 安知鱼
 * @Date: 2026-01-12 20:15:40
 * @LastEditTime: 2026-02-05 11:02:18
 * @LastEditors: 安知鱼
 */
package signer

import (
	"sort"
	"strings"
)

// UnsignedPayload 是不预先哈希请求体时使用的占位符。
// 流式/二进制请求体统一使用该标记。
const UnsignedPayload = "UNSIGNED-PAYLOAD"

// uriEncode 按 RFC 3986 对字符串进行百分号编码。
// 非保留字符（A-Z a-z 0-9 - . _ ~）保持原样；encodeSlash 控制是否编码 '/'。
// 注意不能使用 net/url 的 QueryEscape：它会把空格编码为 '+'，导致签名不匹配。
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'),
			c == '-' || c == '.' || c == '_' || c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			const hex = "0123456789ABCDEF"
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xF])
		}
	}
	return b.String()
}

// EncodePath 对对象键逐段编码，保留路径分隔符。
// 例如 "web/图 1.png" -> "web/%E5%9B%BE%201.png"。
func EncodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg, true)
	}
	return strings.Join(segments, "/")
}

// CanonicalQuery 将查询参数编码、按键名字典序排序后拼接。
// 空参数列表必须序列化为空字符串，而不是 "?"。
// 驱动发送请求时直接使用该结果做查询串，保证与签名输入逐字节一致。
func CanonicalQuery(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(query))
	for k, v := range query {
		pairs = append(pairs, uriEncode(k, true)+"="+uriEncode(v, true))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// sortedHeaderNames 返回小写化并排序后的头部名称列表。
func sortedHeaderNames(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}

// BuildCanonicalRequest 构造字节级精确的规范请求字符串。
//
// 输出格式:
//
//	METHOD\nURI\nQUERY\nHEADERS\n\nSIGNED_HEADERS\nPAYLOAD_HASH
//
// 头部块之后必须有一个空行（即连续两个 \n）。漏掉它产生的请求
// 服务端只会返回签名不匹配，没有任何有用的提示。
func BuildCanonicalRequest(method, uriPath string, query map[string]string, headers map[string]string, payloadHash string) string {
	if uriPath == "" {
		uriPath = "/"
	}

	lowered := make(map[string]string, len(headers))
	for name, value := range headers {
		lowered[strings.ToLower(name)] = strings.TrimSpace(value)
	}
	names := sortedHeaderNames(lowered)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(lowered[name])
		canonicalHeaders.WriteByte('\n')
	}

	return strings.Join([]string{
		method,
		uriPath,
		CanonicalQuery(query),
		canonicalHeaders.String(),
		strings.Join(names, ";"),
		payloadHash,
	}, "\n")
}
