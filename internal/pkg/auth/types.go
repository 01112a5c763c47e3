/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2026-01-30 09:12:44
 * @LastEditTime: 2026-02-08 17:26:19
 * @LastEditors: 安知鱼
 */
package auth

import "github.com/golang-jwt/jwt/v5"

// ClaimsKey 是用于在 gin.Context 中存储和检索 API 凭证信息的键。
const ClaimsKey = "api_claims"

// CustomClaims 定义了 API Token 的 Claims 结构体。
// 本服务没有用户体系，Token 只标识一个调用方及其权限范围。
type CustomClaims struct {
	Client string `json:"client"` // 调用方标识
	Scope  string `json:"scope"`  // 权限范围: "upload" 或 "manage"
	jwt.RegisteredClaims
}

// CanManage 返回该凭证是否允许调用对象管理接口。
func (c *CustomClaims) CanManage() bool {
	return c.Scope == "manage"
}
