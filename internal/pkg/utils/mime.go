/*
 * @Description: 图片扩展名与 Content-Type 映射
 * @Author: 安知鱼
 * @Date: 2026-01-16 11:25:48
 * @LastEditTime: 2026-01-16 11:31:10
 * @LastEditors: 安知鱼
 */
package utils

// ContentTypeByExt 根据扩展名返回 Content-Type，未知类型回退为二进制流。
func ContentTypeByExt(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "svg":
		return "image/svg+xml"
	case "ico":
		return "image/x-icon"
	default:
		return "application/octet-stream"
	}
}

// imageExts 是各图床普遍接受的图片扩展名。
var imageExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "bmp": {}, "webp": {},
}

// IsImageExt 判断扩展名是否是受支持的图片格式。
func IsImageExt(ext string) bool {
	_, ok := imageExts[ext]
	return ok
}
