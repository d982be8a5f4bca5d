package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bitfantasy/repairdesk/internal/config"
	"github.com/bitfantasy/repairdesk/internal/desk/lineitem"
	"github.com/bitfantasy/repairdesk/internal/desk/records"
	"github.com/bitfantasy/repairdesk/internal/desk/service"
	"github.com/bitfantasy/repairdesk/internal/desk/session"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/middleware"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers 处理器集合
type Handlers struct {
	Auth    *AuthHandler
	Record  *RecordHandler
	Job     *JobHandler
	Media   *MediaHandler
	Catalog *CatalogHandler
	Admin   *AdminHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(mgr *session.Manager, ws *service.Workspaces, catalog *service.CatalogService, cfg config.SessionConfig, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	cookies := &cookieJar{name: cfg.CookieName, secure: cfg.CookieSecure}
	return &Handlers{
		Auth:    NewAuthHandler(mgr, cookies, logger),
		Record:  NewRecordHandler(ws),
		Job:     NewJobHandler(ws),
		Media:   NewMediaHandler(ws),
		Catalog: NewCatalogHandler(catalog),
		Admin:   NewAdminHandler(ws, catalog),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// SuccessMessage 成功响应，带后端返回的提示文案
func SuccessMessage(c *gin.Context, message string, data interface{}) {
	if message == "" {
		message = "success"
	}
	c.JSON(200, Response{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 错误响应，附带明细
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// respondError maps a desk error onto the envelope.
func respondError(c *gin.Context, err error) {
	var ve *validate.ValidationError
	var se *backend.ServerError
	var ne *backend.NetworkError
	switch {
	case errors.As(err, &ve):
		ErrorWithData(c, 40000, "validation failed", gin.H{"fields": ve.Fields})
	case errors.Is(err, backend.ErrUnauthorized),
		errors.Is(err, backend.ErrAuthRequired),
		errors.Is(err, session.ErrExpired):
		Error(c, 40101, "session expired")
	case errors.Is(err, service.ErrForbidden):
		Forbidden(c, err.Error())
	case errors.Is(err, service.ErrNoMedia):
		NotFound(c, err.Error())
	case errors.Is(err, records.ErrEditOpen):
		Error(c, 40900, err.Error())
	case errors.Is(err, records.ErrNoEdit):
		Error(c, 40901, err.Error())
	case errors.Is(err, records.ErrSuperseded):
		Error(c, 40902, err.Error())
	case errors.Is(err, service.ErrUnknownList),
		errors.Is(err, lineitem.ErrOutOfRange),
		errors.Is(err, lineitem.ErrInvalidQuantity),
		errors.Is(err, lineitem.ErrInvalidPrice),
		errors.Is(err, lineitem.ErrUnknownField):
		BadRequest(c, err.Error())
	case errors.As(err, &se):
		if se.NotFound() {
			NotFound(c, se.Message)
			return
		}
		Error(c, 50200, se.Message)
	case errors.As(err, &ne):
		Error(c, 50200, backend.Message(err))
	default:
		InternalError(c, err.Error())
	}
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// parseID reads a positive int64 path parameter.
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func sessionOf(c *gin.Context) *session.Session {
	return middleware.GetSession(c)
}

// Health GET /health
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
