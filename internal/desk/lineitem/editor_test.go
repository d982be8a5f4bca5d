package lineitem

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/shopspring/decimal"
)

type fakeCreator struct {
	nextID int64
	calls  int
}

func (f *fakeCreator) CreateItem(_ context.Context, in backend.ItemInput) (*entity.Item, error) {
	f.calls++
	f.nextID++
	return &entity.Item{ID: f.nextID, Name: in.Name, Description: in.Description, Price: in.Price, Stock: in.Stock}, nil
}

func newEditor() (*Editor, *fakeCreator) {
	fc := &fakeCreator{nextID: 100}
	e := NewEditor(fc)
	e.SetCatalog([]entity.Item{
		{ID: 5, Name: "Screen", Description: "OLED panel", Price: decimal.NewFromInt(100)},
		{ID: 6, Name: "Battery", Description: "4000mAh", Price: decimal.RequireFromString("35.50")},
	})
	return e, fc
}

func TestAddStartsEmpty(t *testing.T) {
	e, _ := newEditor()
	i := e.Add()
	d := e.Drafts()[i]
	if d.ItemID != 0 || d.Quantity != 1 || !d.PriceAtTime.IsZero() {
		t.Errorf("new draft = %+v", d)
	}
}

func TestSetItemSeedsPriceOnlyWhenZero(t *testing.T) {
	e, _ := newEditor()
	i := e.Add()
	if err := e.Update(i, FieldItemID, "5"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	d := e.Drafts()[i]
	if d.ItemName != "Screen" || d.ItemDescription != "OLED panel" {
		t.Errorf("side-loaded = %q %q", d.ItemName, d.ItemDescription)
	}
	if !d.PriceAtTime.Equal(decimal.NewFromInt(100)) {
		t.Errorf("price = %s, want 100", d.PriceAtTime)
	}

	// Switching items keeps the snapshot already taken.
	if err := e.Update(i, FieldItemID, "6"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	d = e.Drafts()[i]
	if d.ItemName != "Battery" || !d.PriceAtTime.Equal(decimal.NewFromInt(100)) {
		t.Errorf("after switch: %+v", d)
	}
}

func TestLoadedSnapshotIsNotRecomputed(t *testing.T) {
	e, _ := newEditor()
	e.Load([]entity.RepairLineItem{{ID: 9, ItemID: 5, Quantity: 2, PriceAtTime: decimal.NewFromInt(80)}})
	if err := e.SetItem(0, 5); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if p := e.Drafts()[0].PriceAtTime; !p.Equal(decimal.NewFromInt(80)) {
		t.Errorf("price = %s, want 80", p)
	}
}

func TestQuantityBelowOneRejected(t *testing.T) {
	e, _ := newEditor()
	i := e.Add()
	for _, v := range []string{"0", "-3"} {
		if err := e.Update(i, FieldQuantity, v); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("quantity %s: expected ErrInvalidQuantity, got %v", v, err)
		}
	}
	if q := e.Drafts()[i].Quantity; q != 1 {
		t.Errorf("quantity = %d, want unchanged 1", q)
	}
}

func TestUpdateErrors(t *testing.T) {
	e, _ := newEditor()
	e.Add()
	tests := []struct {
		name  string
		index int
		field Field
		value string
		want  error
	}{
		{"out of range", 3, FieldDescription, "x", ErrOutOfRange},
		{"unknown field", 0, Field("color"), "red", ErrUnknownField},
		{"negative price", 0, FieldPrice, "-1", ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Update(tt.index, tt.field, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if err := e.Update(0, FieldQuantity, "two"); err == nil {
		t.Error("expected parse error")
	}
}

func TestSerializeDropsEmptyAndOmitsNewIDs(t *testing.T) {
	e, _ := newEditor()
	e.Load([]entity.RepairLineItem{{ID: 9, ItemID: 6, Quantity: 1, PriceAtTime: decimal.RequireFromString("35.50"), Description: "swap"}})
	e.Add() // left without an item
	i := e.Add()
	e.SetItem(i, 5)
	e.SetQuantity(i, 2)

	out := e.Serialize()
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	if out[0].ID != 9 || out[1].ID != 0 {
		t.Errorf("ids = %d, %d", out[0].ID, out[1].ID)
	}

	raw, _ := json.Marshal(out[1])
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	if _, has := m["id"]; has {
		t.Errorf("new row must not carry id: %s", raw)
	}
	if string(raw) != `{"itemId":5,"quantity":2,"description":"","price":100}` {
		t.Errorf("payload = %s", raw)
	}

	if total := e.Total(); !total.Equal(decimal.RequireFromString("235.50")) {
		t.Errorf("total = %s", total)
	}
}

func TestRoundTripThroughRecord(t *testing.T) {
	e, _ := newEditor()
	i := e.Add()
	e.SetItem(i, 5)
	e.SetQuantity(i, 2)

	saved := make([]entity.RepairLineItem, 0)
	for n, in := range e.Serialize() {
		saved = append(saved, entity.RepairLineItem{ID: int64(n + 1), ItemID: in.ItemID, Quantity: in.Quantity, PriceAtTime: in.Price})
	}

	reloaded := NewEditor(nil)
	reloaded.Load(saved)
	d := reloaded.Drafts()[0]
	if d.ItemID != 5 || d.Quantity != 2 || !d.PriceAtTime.Equal(decimal.NewFromInt(100)) {
		t.Errorf("reloaded = %+v", d)
	}
}

func TestRemove(t *testing.T) {
	e, _ := newEditor()
	e.Add()
	e.Add()
	if err := e.Remove(0); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(e.Drafts()) != 1 {
		t.Errorf("drafts = %d", len(e.Drafts()))
	}
	if err := e.Remove(5); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestCreateCatalogItemAppends(t *testing.T) {
	e, fc := newEditor()
	item, err := e.CreateCatalogItem(context.Background(), backend.ItemInput{Name: "Glue", Price: decimal.NewFromInt(3), Stock: 10})
	if err != nil {
		t.Fatalf("CreateCatalogItem: %v", err)
	}
	cat := e.Catalog()
	if len(cat) != 3 || cat[2].ID != item.ID {
		t.Errorf("catalog = %+v", cat)
	}

	i := e.Add()
	e.SetItem(i, item.ID)
	if e.Drafts()[i].ItemName != "Glue" {
		t.Errorf("new item not selectable")
	}

	_, err = e.CreateCatalogItem(context.Background(), backend.ItemInput{Stock: -1})
	var ve *validate.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if fc.calls != 1 {
		t.Errorf("creator calls = %d, want 1", fc.calls)
	}
}
