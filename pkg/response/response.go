/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-06-15 12:16:18
 * @LastEditTime: 2025-07-18 19:08:52
 * @LastEditors: 安知鱼
 */
package response

import (
	"net/http"

	"github.com/anzhiyu-c/picnexus-server/pkg/apperr"
	"github.com/gin-gonic/gin"
)

// Response 是统一的API返回结构体
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: message,
		Data:    data,
	})
}

// Fail 失败响应
func Fail(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// SuccessWithStatus 成功响应，但允许自定义 HTTP 状态码。
// 这对于返回 201 Created 或 202 Accepted 等状态非常有用。
func SuccessWithStatus(c *gin.Context, code int, data interface{}, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// FailWithError 按错误类别映射 HTTP 状态码后返回失败响应。
// 未分类的错误一律按 500 处理。
func FailWithError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConfig:
		code = http.StatusBadRequest
	case apperr.KindAuth:
		code = http.StatusUnauthorized
	case apperr.KindNetwork, apperr.KindProvider, apperr.KindStorage:
		code = http.StatusBadGateway
	}
	Fail(c, code, err.Error())
}
