package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`    // 业务状态码
	Data    any    `json:"data"`    // 响应数据
	Message string `json:"message"` // 响应消息
}

// PageResp 分页响应结构
type PageResp struct {
	List  any   `json:"list"`  // 数据列表
	Total int64 `json:"total"` // 总数
}

// ok 成功响应
func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: data, Message: "success"})
}

// okPage 分页成功响应
func okPage(c *gin.Context, list any, total int64) {
	// list 为 nil 时序列化为空数组而不是 null
	if list == nil {
		list = []any{}
	}
	ok(c, PageResp{List: list, Total: total})
}

// fail 失败响应
func fail(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Code: status, Message: message})
}
