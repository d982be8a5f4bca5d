package entity

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Role 用户角色
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleWorker Role = "WORKER"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleWorker
}

// Worker 后端用户（管理员或维修工）
type Worker struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
}

// Matches is the roster filter: case-insensitive substring of name or email.
func (w Worker) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(w.Name), q) ||
		strings.Contains(strings.ToLower(w.Email), q)
}

// Item 物料目录项
type Item struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// User is the identity returned by the backend on login.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
