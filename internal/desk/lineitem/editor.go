// Package lineitem is the edit buffer for a record's repair line items.
package lineitem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/shopspring/decimal"
)

var (
	ErrOutOfRange      = errors.New("line item index out of range")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidPrice    = errors.New("price cannot be negative")
	ErrUnknownField    = errors.New("unknown line item field")
)

// Field names an editable column of a draft.
type Field string

const (
	FieldItemID      Field = "itemId"
	FieldQuantity    Field = "quantity"
	FieldPrice       Field = "priceAtTime"
	FieldDescription Field = "description"
)

// Draft is one line item being edited. ID is zero for rows not yet saved.
type Draft struct {
	ID              int64           `json:"id"`
	ItemID          int64           `json:"itemId"`
	Quantity        int             `json:"quantity"`
	PriceAtTime     decimal.Decimal `json:"priceAtTime"`
	Description     string          `json:"description"`
	ItemName        string          `json:"itemName"`
	ItemDescription string          `json:"itemDescription"`
}

// ItemCreator creates catalog items.
type ItemCreator interface {
	CreateItem(ctx context.Context, in backend.ItemInput) (*entity.Item, error)
}

// Editor 维修物料行编辑器
type Editor struct {
	creator ItemCreator

	mu      sync.Mutex
	drafts  []Draft
	catalog []entity.Item
}

func NewEditor(creator ItemCreator) *Editor {
	return &Editor{creator: creator}
}

// Load replaces the drafts with a record's saved line items.
func (e *Editor) Load(items []entity.RepairLineItem) {
	drafts := make([]Draft, 0, len(items))
	for _, li := range items {
		drafts = append(drafts, Draft{
			ID:              li.ID,
			ItemID:          li.ItemID,
			Quantity:        li.Quantity,
			PriceAtTime:     li.PriceAtTime,
			Description:     li.Description,
			ItemName:        li.ItemName,
			ItemDescription: li.ItemDescription,
		})
	}
	e.mu.Lock()
	e.drafts = drafts
	e.mu.Unlock()
}

// Reset clears the drafts. The catalog is kept.
func (e *Editor) Reset() {
	e.mu.Lock()
	e.drafts = nil
	e.mu.Unlock()
}

func (e *Editor) SetCatalog(items []entity.Item) {
	e.mu.Lock()
	e.catalog = append([]entity.Item(nil), items...)
	e.mu.Unlock()
}

func (e *Editor) Catalog() []entity.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]entity.Item{}, e.catalog...)
}

func (e *Editor) Drafts() []Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Draft{}, e.drafts...)
}

// Add appends an empty draft and returns its index.
func (e *Editor) Add() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drafts = append(e.drafts, Draft{Quantity: 1, PriceAtTime: decimal.Zero})
	return len(e.drafts) - 1
}

func (e *Editor) Remove(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.drafts) {
		return ErrOutOfRange
	}
	e.drafts = append(e.drafts[:index], e.drafts[index+1:]...)
	return nil
}

// Update sets one field of the draft at index from its text form.
func (e *Editor) Update(index int, field Field, value string) error {
	value = strings.TrimSpace(value)
	switch field {
	case FieldItemID:
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("itemId %q: %w", value, err)
		}
		return e.SetItem(index, id)
	case FieldQuantity:
		q, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("quantity %q: %w", value, err)
		}
		return e.SetQuantity(index, q)
	case FieldPrice:
		p, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("price %q: %w", value, err)
		}
		return e.SetPrice(index, p)
	case FieldDescription:
		return e.SetDescription(index, value)
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, field)
}

// SetItem attaches a catalog item. Name and description are copied from the
// catalog; the price is seeded only while the draft price is still zero, so
// a snapshot already taken is never overwritten.
func (e *Editor) SetItem(index int, itemID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.draft(index)
	if err != nil {
		return err
	}
	d.ItemID = itemID
	d.ItemName = ""
	d.ItemDescription = ""
	for _, it := range e.catalog {
		if it.ID != itemID {
			continue
		}
		d.ItemName = it.Name
		d.ItemDescription = it.Description
		if d.PriceAtTime.IsZero() {
			d.PriceAtTime = it.Price
		}
		break
	}
	return nil
}

func (e *Editor) SetQuantity(index, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.draft(index)
	if err != nil {
		return err
	}
	d.Quantity = quantity
	return nil
}

func (e *Editor) SetPrice(index int, price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.draft(index)
	if err != nil {
		return err
	}
	d.PriceAtTime = price
	return nil
}

func (e *Editor) SetDescription(index int, description string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.draft(index)
	if err != nil {
		return err
	}
	d.Description = description
	return nil
}

func (e *Editor) draft(index int) (*Draft, error) {
	if index < 0 || index >= len(e.drafts) {
		return nil, ErrOutOfRange
	}
	return &e.drafts[index], nil
}

// Serialize renders the submission payload. Drafts without an item are
// dropped; id is sent only for rows that already exist.
func (e *Editor) Serialize() []entity.LineItemInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]entity.LineItemInput, 0, len(e.drafts))
	for _, d := range e.drafts {
		if d.ItemID <= 0 {
			continue
		}
		in := entity.LineItemInput{
			ItemID:      d.ItemID,
			Quantity:    d.Quantity,
			Description: d.Description,
			Price:       d.PriceAtTime,
		}
		if d.ID > 0 {
			in.ID = d.ID
		}
		out = append(out, in)
	}
	return out
}

// Total sums quantity × price over the drafts that would be submitted.
func (e *Editor) Total() decimal.Decimal {
	total := decimal.Zero
	for _, in := range e.Serialize() {
		total = total.Add(in.Price.Mul(decimal.NewFromInt(int64(in.Quantity))))
	}
	return total
}

// CreateCatalogItem creates an item on the backend and makes it available
// for selection immediately.
func (e *Editor) CreateCatalogItem(ctx context.Context, in backend.ItemInput) (*entity.Item, error) {
	if err := validate.ItemForm(in.Name, in.Stock); err != nil {
		return nil, err
	}
	item, err := e.creator.CreateItem(ctx, in)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.catalog = append(e.catalog, *item)
	e.mu.Unlock()
	return item, nil
}
