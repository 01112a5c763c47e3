// internal/app/middleware/auth.go
package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/auth"
	"github.com/anzhiyu-c/picnexus-server/pkg/response"

	"github.com/gin-gonic/gin"
)

// min 辅助函数，返回两个整数中的较小值
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Middleware struct {
	secret []byte
}

// NewMiddleware 创建认证中间件。secret 为空时所有受保护接口直接放行，
// 适用于本机自用部署。
func NewMiddleware(secret []byte) *Middleware {
	return &Middleware{secret: secret}
}

// JWTAuth 是一个强制性的API Token认证中间件
func (m *Middleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.secret) == 0 {
			c.Next()
			return
		}

		authHeader := c.Request.Header.Get("Authorization")
		if authHeader == "" {
			response.Fail(c, http.StatusUnauthorized, "请求未携带Token，无权限访问")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			response.Fail(c, http.StatusUnauthorized, "Token格式不正确")
			c.Abort()
			return
		}

		tokenString := parts[1]
		claims, err := auth.ParseToken(tokenString, m.secret)
		if err != nil {
			log.Printf("[JWTAuth] Token解析失败 (%s...): %v", tokenString[:min(20, len(tokenString))], err)
			response.Fail(c, http.StatusUnauthorized, "无效或过期的Token")
			c.Abort()
			return
		}

		c.Set(auth.ClaimsKey, claims)
		c.Next()
	}
}

// ManageAuth 校验凭证是否具备对象管理权限，必须在 JWTAuth 之后使用。
func (m *Middleware) ManageAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.secret) == 0 {
			c.Next()
			return
		}

		claimsValue, exists := c.Get(auth.ClaimsKey)
		if !exists {
			response.Fail(c, http.StatusForbidden, "权限信息获取失败")
			c.Abort()
			return
		}

		claims, ok := claimsValue.(*auth.CustomClaims)
		if !ok {
			response.Fail(c, http.StatusForbidden, "权限信息格式不正确")
			c.Abort()
			return
		}

		if !claims.CanManage() {
			log.Printf("[ManageAuth] 权限不足: client=%s scope=%s", claims.Client, claims.Scope)
			response.Fail(c, http.StatusForbidden, "权限不足：此操作需要管理权限")
			c.Abort()
			return
		}

		c.Next()
	}
}
