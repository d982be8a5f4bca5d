package backend

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// =============================================================================
// 列表
// =============================================================================

// Page is the one canonical list payload: {records, total}. A bare JSON
// array is accepted as records with total = len(array).
type Page[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
}

func (p *Page[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		p.Records = items
		p.Total = len(items)
		return nil
	}
	var aux struct {
		Records []T `json:"records"`
		Total   int `json:"total"`
	}
	if err := json.Unmarshal(trimmed, &aux); err != nil {
		return err
	}
	p.Records = aux.Records
	p.Total = aux.Total
	if p.Records == nil {
		p.Records = []T{}
	}
	return nil
}

// RecordPage 维修记录分页
type RecordPage = Page[entity.RepairRecord]

// ListFilter composes the record list query. Zero values mean unconstrained,
// except Limit and Offset which are always sent.
type ListFilter struct {
	Search    string
	Status    entity.RepairStatus
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}

// Encode renders the query in the backend's documented parameter order:
// search, status, startDate, endDate, limit, offset.
func (f ListFilter) Encode() string {
	parts := make([]string, 0, 6)
	add := func(key, value string) {
		parts = append(parts, key+"="+url.QueryEscape(value))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add("search", s)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if !f.StartDate.IsZero() {
		add("startDate", f.StartDate.Format(dateLayout))
	}
	if !f.EndDate.IsZero() {
		add("endDate", f.EndDate.Format(dateLayout))
	}
	add("limit", strconv.Itoa(f.Limit))
	add("offset", strconv.Itoa(f.Offset))
	return strings.Join(parts, "&")
}

// =============================================================================
// 请求体
// =============================================================================

// CreateRecordInput 新建维修记录表单
type CreateRecordInput struct {
	CustomerName       string
	CustomerNumber     string
	ExpectedRepairDate time.Time
	DeviceTakenOn      time.Time
	DeviceIssue        string

	DeviceCompany  string
	DeviceModel    string
	DeviceColor    string
	DevicePassword string
	Description    string

	EstimatedCost *decimal.Decimal
	AdvanceAmount *decimal.Decimal

	RepairItems []entity.LineItemInput
}

// Upload is one image or video attached to an intake form.
type Upload struct {
	Kind        entity.MediaKind
	Filename    string
	ContentType string
	Body        []byte
}

// RecordPatch 部分更新，仅发送非 nil 字段
type RecordPatch struct {
	Status             *entity.RepairStatus    `json:"status,omitempty"`
	AssignedToID       *int64                  `json:"assignedToId,omitempty"`
	ExpectedRepairDate *time.Time              `json:"expectedRepairDate,omitempty"`
	FinalCost          *decimal.Decimal        `json:"finalCost,omitempty"`
	CustomerName       *string                 `json:"customerName,omitempty"`
	CustomerNumber     *string                 `json:"customerNumber,omitempty"`
	RepairItems        *[]entity.LineItemInput `json:"repairItems,omitempty"`
}

// File is a fetched media body.
type File struct {
	ContentType string
	Data        []byte
}

type ItemInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type ProductInput struct {
	Name string `json:"name"`
}

type WorkerInput struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// LoginResult 登录结果
type LoginResult struct {
	User        entity.User `json:"user"`
	AccessToken string      `json:"accessToken"`
}
