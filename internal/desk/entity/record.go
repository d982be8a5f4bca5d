package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The backend speaks JSON numbers for money.
	decimal.MarshalJSONWithoutQuotes = true
}

// RepairStatus 维修状态
type RepairStatus string

const (
	StatusPending    RepairStatus = "pending"
	StatusInProgress RepairStatus = "in-progress"
	StatusCompleted  RepairStatus = "completed"
)

// Valid reports whether s is one of the lifecycle values.
func (s RepairStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Rank orders statuses along the normal lifecycle.
func (s RepairStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// MediaFile 记录附带的图片/视频引用，url 需带认证访问
type MediaFile struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Product 标签
type Product struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RepairLineItem 维修记录关联的物料行
type RepairLineItem struct {
	ID              int64           `json:"id,omitempty"`
	ItemID          int64           `json:"itemId"`
	Quantity        int             `json:"quantity"`
	PriceAtTime     decimal.Decimal `json:"priceAtTime"`
	Description     string          `json:"description,omitempty"`
	ItemName        string          `json:"itemName,omitempty"`
	ItemDescription string          `json:"itemDescription,omitempty"`
}

// Subtotal is quantity × priceAtTime.
func (li RepairLineItem) Subtotal() decimal.Decimal {
	return li.PriceAtTime.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// RepairRecord 维修记录
type RepairRecord struct {
	ID             int64  `json:"id"`
	CustomerName   string `json:"customerName"`
	CustomerNumber string `json:"customerNumber"`

	ExpectedRepairDate time.Time `json:"expectedRepairDate"`
	DeviceTakenOn      time.Time `json:"deviceTakenOn"`

	DeviceCompany  string `json:"deviceCompany,omitempty"`
	DeviceModel    string `json:"deviceModel,omitempty"`
	DeviceColor    string `json:"deviceColor,omitempty"`
	DevicePassword string `json:"devicePassword,omitempty"`
	DeviceIssue    string `json:"deviceIssue,omitempty"`
	Description    string `json:"description,omitempty"`

	EstimatedCost decimal.NullDecimal `json:"estimatedCost"`
	AdvanceAmount decimal.NullDecimal `json:"advanceAmount"`
	FinalCost     decimal.NullDecimal `json:"finalCost"`

	Status     RepairStatus `json:"status"`
	AssignedTo *Worker      `json:"assignedTo"`

	RepairItems []RepairLineItem `json:"repairItems"`
	Products    []Product        `json:"products"`
	Images      []MediaFile      `json:"images"`
	Videos      []MediaFile      `json:"videos"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	assigneeSent bool
}

// UnmarshalJSON accepts the legacy assigned_to key next to assignedTo and
// remembers whether either key was present, so an explicit null can clear
// the assignee in MergeFrom.
func (r *RepairRecord) UnmarshalJSON(data []byte) error {
	type plain RepairRecord
	aux := struct {
		*plain
		Assignee       json.RawMessage `json:"assignedTo"`
		LegacyAssignee json.RawMessage `json:"assigned_to"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	raw := aux.Assignee
	if len(raw) == 0 {
		raw = aux.LegacyAssignee
	}
	r.assigneeSent = len(raw) > 0
	r.AssignedTo = nil
	if r.assigneeSent && string(raw) != "null" {
		var w Worker
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		r.AssignedTo = &w
	}
	return nil
}

// Assigned reports whether a worker holds the record.
func (r *RepairRecord) Assigned() bool {
	return r.AssignedTo != nil && r.AssignedTo.ID > 0
}

// LineItemTotal sums the line-item subtotals.
func (r *RepairRecord) LineItemTotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range r.RepairItems {
		total = total.Add(li.Subtotal())
	}
	return total
}

// MediaRefs lists image references first, then videos.
func (r *RepairRecord) MediaRefs() []FileRef {
	refs := make([]FileRef, 0, len(r.Images)+len(r.Videos))
	for _, img := range r.Images {
		refs = append(refs, FileRef{ID: img.ID, Kind: MediaImage})
	}
	for _, vid := range r.Videos {
		refs = append(refs, FileRef{ID: vid.ID, Kind: MediaVideo})
	}
	return refs
}

// MergeFrom shallow-merges the non-zero top-level fields of src into r. The
// assignee is also taken when src was decoded with an explicit null.
func (r *RepairRecord) MergeFrom(src *RepairRecord) {
	if src == nil {
		return
	}
	if src.CustomerName != "" {
		r.CustomerName = src.CustomerName
	}
	if src.CustomerNumber != "" {
		r.CustomerNumber = src.CustomerNumber
	}
	if !src.ExpectedRepairDate.IsZero() {
		r.ExpectedRepairDate = src.ExpectedRepairDate
	}
	if !src.DeviceTakenOn.IsZero() {
		r.DeviceTakenOn = src.DeviceTakenOn
	}
	if src.DeviceCompany != "" {
		r.DeviceCompany = src.DeviceCompany
	}
	if src.DeviceModel != "" {
		r.DeviceModel = src.DeviceModel
	}
	if src.DeviceColor != "" {
		r.DeviceColor = src.DeviceColor
	}
	if src.DevicePassword != "" {
		r.DevicePassword = src.DevicePassword
	}
	if src.DeviceIssue != "" {
		r.DeviceIssue = src.DeviceIssue
	}
	if src.Description != "" {
		r.Description = src.Description
	}
	if src.EstimatedCost.Valid {
		r.EstimatedCost = src.EstimatedCost
	}
	if src.AdvanceAmount.Valid {
		r.AdvanceAmount = src.AdvanceAmount
	}
	if src.FinalCost.Valid {
		r.FinalCost = src.FinalCost
	}
	if src.Status != "" {
		r.Status = src.Status
	}
	if src.AssignedTo != nil || src.assigneeSent {
		r.AssignedTo = src.AssignedTo
	}
	if src.RepairItems != nil {
		r.RepairItems = src.RepairItems
	}
	if src.Products != nil {
		r.Products = src.Products
	}
	if src.Images != nil {
		r.Images = src.Images
	}
	if src.Videos != nil {
		r.Videos = src.Videos
	}
	if !src.UpdatedAt.IsZero() {
		r.UpdatedAt = src.UpdatedAt
	}
}

// MediaKind 媒体类型
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// FileRef points at one media file of a record.
type FileRef struct {
	ID   int64     `json:"id"`
	Kind MediaKind `json:"kind"`
}

// LineItemInput is the submission shape of a line item. ID is sent only for
// rows that already exist on the backend.
type LineItemInput struct {
	ID          int64           `json:"id,omitempty"`
	ItemID      int64           `json:"itemId"`
	Quantity    int             `json:"quantity"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}
