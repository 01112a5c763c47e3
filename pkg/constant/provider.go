/*
 * @Description: 上传服务商类型与策略配置键
 * @Author: 安知鱼
 * @Date: 2026-01-11 15:10:56
 * @LastEditTime: 2026-02-10 10:13:27
 * @LastEditors: 安知鱼
 */
package constant

// ProviderType 定义了上传服务商的类型，提供了更强的类型安全
type ProviderType string

// 定义支持的服务商类型常量
const (
	ProviderTOS    ProviderType = "tos"    // 纳米图床（火山引擎 TOS 对象存储）
	ProviderS3     ProviderType = "s3"     // Cloudflare R2 及 S3 兼容存储
	ProviderGitHub ProviderType = "github" // GitHub 仓库图床
	ProviderSMMS   ProviderType = "smms"   // SM.MS 图床
	ProviderImgur  ProviderType = "imgur"  // Imgur 图床
)

// 策略 Settings 中的配置键
const (
	// SettingRequestsPerSecond 是策略中定义限速请求数的键
	SettingRequestsPerSecond = "requests_per_second"
	// SettingBurstSize 是策略中定义限速突发量的键
	SettingBurstSize = "burst_size"
	// SettingPartSize 是策略中定义分片大小（字节）的键
	SettingPartSize = "part_size"
	// SettingForcePathStyle 是策略中定义 S3 路径风格寻址的键
	SettingForcePathStyle = "force_path_style"
)

// IsValid 检查给定的类型是否是受支持的服务商类型
func (t ProviderType) IsValid() bool {
	switch t {
	case ProviderTOS, ProviderS3, ProviderGitHub, ProviderSMMS, ProviderImgur:
		return true
	default:
		return false
	}
}
