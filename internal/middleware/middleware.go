package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger 日志中间件
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user-agent", c.Request.UserAgent()),
			zap.Duration("latency", latency),
			zap.String("request_id", c.GetString("request_id")),
		}

		if userID := c.GetString("user_id"); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		if status >= 500 {
			logger.Error("Server error", fields...)
		} else if status >= 400 {
			logger.Warn("Client error", fields...)
		} else {
			logger.Info("Request", fields...)
		}
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		// Cookies are only sent back when the origin is echoed.
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestID 请求ID中间件
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Request.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// SessionLoader resolves a session id to a live session.
type SessionLoader interface {
	Load(ctx context.Context, id string) (*session.Session, error)
}

// SessionAuth 会话认证中间件
//
// The session id is read from the cookie, falling back to a bearer
// Authorization header for non-browser clients.
func SessionAuth(loader SessionLoader, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, _ := c.Cookie(cookieName)
		if sid == "" {
			parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				sid = parts[1]
			}
		}

		if sid == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    40100,
				"message": "Authorization is required",
			})
			c.Abort()
			return
		}

		sess, err := loader.Load(c.Request.Context(), sid)
		if err != nil {
			code, msg := 40102, "session expired"
			if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrExpired) {
				code, msg = 50300, "session store unavailable"
			}
			c.JSON(code/100, gin.H{
				"code":    code,
				"message": msg,
			})
			c.Abort()
			return
		}

		c.Set("session", sess)
		c.Set("user_id", strconv.FormatInt(sess.User.ID, 10))
		c.Set("user_name", sess.User.Name)
		c.Set("role", string(sess.User.Role))
		c.Next()
	}
}

// GetSession returns the session set by SessionAuth.
func GetSession(c *gin.Context) *session.Session {
	v, _ := c.Get("session")
	sess, _ := v.(*session.Session)
	return sess
}

// RequireRole 角色检查中间件，管理员通过所有角色检查
func RequireRole(role entity.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := entity.Role(c.GetString("role"))
		if userRole == "" {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    40310,
				"message": "No roles found",
			})
			c.Abort()
			return
		}

		if userRole == role || userRole == entity.RoleAdmin {
			c.Next()
			return
		}

		c.JSON(http.StatusForbidden, gin.H{
			"code":    40312,
			"message": "Role required: " + string(role),
		})
		c.Abort()
	}
}
