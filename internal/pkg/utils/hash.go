/*
 * @Description: 内容寻址工具 - 文件哈希与对象键计算
 * @Author: 安知鱼
 * @Date: 2026-01-16 11:20:05
 * @LastEditTime: 2026-01-28 19:44:31
 * @LastEditors: 安知鱼
 */
package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// ContentHash 计算文件内容的 SHA-1 十六进制摘要。
// 对象键由它决定，相同字节永远映射到同一个远端对象，这是秒传去重的基础。
func ContentHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey 由内容哈希和扩展名计算确定性的远端对象键。
// 文件名不参与计算：同样的内容换个名字上传，键不变。
func ObjectKey(prefix string, data []byte, fileName string) string {
	ext := FileExt(fileName)
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s.%s", strings.Trim(prefix, "/"), ContentHash(data), ext)
}

// FileExt 返回小写的文件扩展名（不含点）。
func FileExt(fileName string) string {
	idx := strings.LastIndexByte(fileName, '.')
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx+1:])
}
