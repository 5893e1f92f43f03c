package common

import "github.com/gin-gonic/gin"

// APIResponse 通用响应结构,封装成功结果
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 统一错误返回结构
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// RespondOK 写出成功响应
func RespondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}

// RespondError 写出错误响应
func RespondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Success: false, Code: code, Message: message})
}
