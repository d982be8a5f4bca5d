package records

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/lineitem"
	"github.com/bitfantasy/repairdesk/internal/desk/notify"
	"github.com/bitfantasy/repairdesk/internal/desk/testutil"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/shopspring/decimal"
)

// fakeStore answers from memory; listFn overrides the list behaviour.
type fakeStore struct {
	mu        sync.Mutex
	filters   []backend.ListFilter
	mine      int
	total     int
	listFn    func(f backend.ListFilter) (*backend.RecordPage, error)
	records   map[int64]entity.RepairRecord
	updateErr error
}

func newFakeStore(total int) *fakeStore {
	return &fakeStore{total: total, records: make(map[int64]entity.RepairRecord)}
}

func (s *fakeStore) page(f backend.ListFilter) *backend.RecordPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []entity.RepairRecord
	for i := f.Offset; i < s.total && i < f.Offset+f.Limit; i++ {
		recs = append(recs, entity.RepairRecord{ID: int64(i + 1), CustomerName: f.Search})
	}
	return &backend.RecordPage{Records: recs, Total: s.total}
}

func (s *fakeStore) ListRecords(_ context.Context, f backend.ListFilter) (*backend.RecordPage, error) {
	s.mu.Lock()
	s.filters = append(s.filters, f)
	fn := s.listFn
	s.mu.Unlock()
	if fn != nil {
		return fn(f)
	}
	return s.page(f), nil
}

func (s *fakeStore) ListMyJobs(ctx context.Context, f backend.ListFilter) (*backend.RecordPage, error) {
	s.mu.Lock()
	s.mine++
	s.mu.Unlock()
	return s.ListRecords(ctx, f)
}

func (s *fakeStore) GetRecord(_ context.Context, id int64) (*entity.RepairRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, &backend.ServerError{Status: http.StatusNotFound, Message: "Repair record not found"}
	}
	return &rec, nil
}

func (s *fakeStore) UpdateRecord(_ context.Context, id int64, patch backend.RecordPatch) (*entity.RepairRecord, string, error) {
	if s.updateErr != nil {
		return nil, "", s.updateErr
	}
	rec := entity.RepairRecord{ID: id}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	return &rec, "Repair record updated successfully", nil
}

func (s *fakeStore) calls() []backend.ListFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.ListFilter{}, s.filters...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestParseMonth(t *testing.T) {
	tests := []struct {
		month      string
		start, end string
		wantErr    bool
	}{
		{"2024-03", "2024-03-01", "2024-03-31", false},
		{"2024-02", "2024-02-01", "2024-02-29", false},
		{"2023-02", "2023-02-01", "2023-02-28", false},
		{"2024-12", "2024-12-01", "2024-12-31", false},
		{"2024-13", "", "", true},
		{"March", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.month, func(t *testing.T) {
			start, end, err := ParseMonth(tt.month)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMonth: %v", err)
			}
			if got := start.Format("2006-01-02"); got != tt.start {
				t.Errorf("start = %s, want %s", got, tt.start)
			}
			if got := end.Format("2006-01-02"); got != tt.end {
				t.Errorf("end = %s, want %s", got, tt.end)
			}
		})
	}
}

func TestQueryCompositionAgainstBackend(t *testing.T) {
	fb := testutil.NewBackend(t)
	admin := fb.AddUser("Admin", "admin@shop.test", "secret1", entity.RoleAdmin)
	token := fb.IssueToken(admin, time.Hour)
	client := backend.NewClient(fb.URL(), time.Second, nil)
	bound := client.Bind(staticCreds(token))

	c := NewController(bound, Options{Debounce: -1})
	defer c.Close()

	ctx := context.Background()
	if err := c.SetFilters(ctx, entity.StatusPending, "2024-03"); err != nil {
		t.Fatalf("SetFilters: %v", err)
	}
	c.SetSearchTerm("Jane")

	reqs := fb.RequestsTo(http.MethodGet, "/repair-records")
	last := reqs[len(reqs)-1]
	want := "search=Jane&status=pending&startDate=2024-03-01&endDate=2024-03-31&limit=10&offset=0"
	if last.RawQuery != want {
		t.Errorf("query = %q\nwant    %q", last.RawQuery, want)
	}
	if st := c.State(); st.Page != 1 || st.DebouncedSearchTerm != "Jane" {
		t.Errorf("state = page %d search %q", st.Page, st.DebouncedSearchTerm)
	}
}

type staticCreds string

func (s staticCreds) BearerToken() string { return string(s) }
func (s staticCreds) OnUnauthorized()     {}

func TestLastIntentWins(t *testing.T) {
	store := newFakeStore(0)
	seenA := make(chan struct{})
	releaseA := make(chan struct{})
	store.listFn = func(f backend.ListFilter) (*backend.RecordPage, error) {
		if f.Search == "A" {
			close(seenA)
			<-releaseA
			return &backend.RecordPage{Records: []entity.RepairRecord{{ID: 1, CustomerName: "from A"}}, Total: 1}, nil
		}
		return &backend.RecordPage{Records: []entity.RepairRecord{{ID: 2, CustomerName: "from B"}}, Total: 1}, nil
	}

	c := NewController(store, Options{Debounce: -1})
	defer c.Close()

	done := make(chan struct{})
	go func() {
		c.SetSearchTerm("A")
		close(done)
	}()
	<-seenA
	c.SetSearchTerm("B")
	close(releaseA)
	<-done

	st := c.State()
	if st.DebouncedSearchTerm != "B" {
		t.Errorf("debounced = %q, want B", st.DebouncedSearchTerm)
	}
	if len(st.Records) != 1 || st.Records[0].CustomerName != "from B" {
		t.Errorf("records = %+v, want B's response", st.Records)
	}
	if st.Loading {
		t.Error("expected loading cleared")
	}
}

func TestSearchIsDebounced(t *testing.T) {
	store := newFakeStore(3)
	c := NewController(store, Options{Debounce: 30 * time.Millisecond})
	defer c.Close()

	for _, term := range []string{"J", "Ja", "Jan", "Jane"} {
		c.SetSearchTerm(term)
		if st := c.State(); st.SearchTerm != term {
			t.Fatalf("searchTerm = %q, want %q immediately", st.SearchTerm, term)
		}
	}
	waitFor(t, func() bool { return c.State().DebouncedSearchTerm == "Jane" })
	time.Sleep(50 * time.Millisecond)

	calls := store.calls()
	if len(calls) != 1 || calls[0].Search != "Jane" {
		t.Errorf("list calls = %+v, want one for Jane", calls)
	}
}

func TestPaginationClamp(t *testing.T) {
	store := newFakeStore(25)
	c := NewController(store, Options{Debounce: -1})
	defer c.Close()
	ctx := context.Background()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	st := c.State()
	if st.TotalPages != 3 || st.HasPrev || !st.HasNext {
		t.Fatalf("state = %+v", st)
	}

	if err := c.SetPage(ctx, 10); err != nil {
		t.Fatalf("SetPage: %v", err)
	}
	st = c.State()
	if st.Page != 3 || !st.HasPrev || st.HasNext {
		t.Errorf("page = %d prev=%v next=%v", st.Page, st.HasPrev, st.HasNext)
	}
	calls := store.calls()
	if off := calls[len(calls)-1].Offset; off != 20 {
		t.Errorf("offset = %d, want 20", off)
	}

	before := len(store.calls())
	c.NextPage(ctx)
	if len(store.calls()) != before {
		t.Error("Next at last page must not fetch")
	}

	c.SetPage(ctx, 0)
	if st := c.State(); st.Page != 1 {
		t.Errorf("page = %d, want 1", st.Page)
	}
	before = len(store.calls())
	c.PrevPage(ctx)
	if len(store.calls()) != before {
		t.Error("Previous at first page must not fetch")
	}
}

func TestEmptyResultKeepsPageOne(t *testing.T) {
	store := newFakeStore(0)
	c := NewController(store, Options{Debounce: -1})
	defer c.Close()
	ctx := context.Background()

	c.Refresh(ctx)
	c.SetPage(ctx, 4)
	st := c.State()
	if st.Page != 1 || st.TotalPages != 0 || st.HasNext || st.HasPrev {
		t.Errorf("state = %+v", st)
	}
}

func TestShrinkingResultClampsPage(t *testing.T) {
	store := newFakeStore(25)
	c := NewController(store, Options{Debounce: -1})
	defer c.Close()
	ctx := context.Background()

	c.Refresh(ctx)
	c.SetPage(ctx, 3)

	store.mu.Lock()
	store.total = 5
	store.mu.Unlock()
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	st := c.State()
	if st.Page != 1 || len(st.Records) != 5 {
		t.Errorf("page = %d records = %d", st.Page, len(st.Records))
	}
}

func TestFilterChangeResetsPage(t *testing.T) {
	store := newFakeStore(40)
	c := NewController(store, Options{Debounce: -1})
	defer c.Close()
	ctx := context.Background()

	c.Refresh(ctx)
	c.SetPage(ctx, 3)
	if err := c.SetFilters(ctx, entity.StatusCompleted, ""); err != nil {
		t.Fatalf("SetFilters: %v", err)
	}
	st := c.State()
	if st.Page != 1 || st.StatusFilter != entity.StatusCompleted {
		t.Errorf("page=%d status=%s", st.Page, st.StatusFilter)
	}
	calls := store.calls()
	if last := calls[len(calls)-1]; last.Offset != 0 || last.Status != entity.StatusCompleted {
		t.Errorf("last filter = %+v", last)
	}

	c.SetPage(ctx, 2)
	c.SetSearchTerm("x")
	if st := c.State(); st.Page != 1 {
		t.Errorf("search change left page at %d", st.Page)
	}
}

func TestSetFiltersRejectsBadInput(t *testing.T) {
	store := newFakeStore(0)
	c := NewController(store, Options{Debounce: -1})
	defer c.Close()
	if err := c.SetFilters(context.Background(), "archived", "2024-99"); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.calls()) != 0 {
		t.Error("invalid filters must not fetch")
	}
}

func TestListFailureKeepsRecordsAndNotifies(t *testing.T) {
	store := newFakeStore(3)
	notes := notify.NewQueue(0)
	c := NewController(store, Options{Debounce: -1, Notify: notes})
	defer c.Close()
	ctx := context.Background()
	c.Refresh(ctx)

	store.listFn = func(backend.ListFilter) (*backend.RecordPage, error) {
		return nil, &backend.ServerError{Status: 500, Message: "Database down"}
	}
	if err := c.Refresh(ctx); err == nil {
		t.Fatal("expected error")
	}
	st := c.State()
	if len(st.Records) != 3 || st.Error != "Database down" {
		t.Errorf("records=%d error=%q", len(st.Records), st.Error)
	}
	drained := notes.Drain()
	if len(drained) != 1 || drained[0].Level != notify.LevelError || drained[0].Message != "Database down" {
		t.Errorf("notifications = %+v", drained)
	}
}

func TestSourcesSelectEndpointAndStatus(t *testing.T) {
	store := newFakeStore(1)
	pending := NewController(store, Options{Source: SourcePending, Debounce: -1})
	defer pending.Close()
	pending.SetFilters(context.Background(), entity.StatusCompleted, "")
	calls := store.calls()
	if last := calls[len(calls)-1]; last.Status != entity.StatusPending {
		t.Errorf("pending queue status = %q", last.Status)
	}

	mine := NewController(store, Options{Source: SourceMine, Debounce: -1})
	defer mine.Close()
	mine.Refresh(context.Background())
	if store.mine != 1 {
		t.Errorf("my-jobs calls = %d, want 1", store.mine)
	}
}

func TestEditTakesPrecedenceOverView(t *testing.T) {
	store := newFakeStore(0)
	store.records[7] = entity.RepairRecord{ID: 7, CustomerName: "Jane", Status: entity.StatusPending}
	c := NewController(store, Options{Debounce: -1})
	defer c.Close()
	ctx := context.Background()

	if _, err := c.OpenView(ctx, 7); err != nil {
		t.Fatalf("OpenView: %v", err)
	}
	if _, err := c.OpenEdit(ctx, 7); err != nil {
		t.Fatalf("OpenEdit: %v", err)
	}
	st := c.State()
	if st.SelectedForView != nil || st.SelectedForEdit == nil {
		t.Fatalf("view=%v edit=%v", st.SelectedForView, st.SelectedForEdit)
	}
	if _, err := c.OpenView(ctx, 7); !errors.Is(err, ErrEditOpen) {
		t.Errorf("expected ErrEditOpen, got %v", err)
	}

	c.CancelEdit()
	if _, err := c.OpenView(ctx, 7); err != nil {
		t.Errorf("OpenView after cancel: %v", err)
	}
}

func TestSubmitEditFailureKeepsDialogOpen(t *testing.T) {
	store := newFakeStore(0)
	store.records[7] = entity.RepairRecord{ID: 7, CustomerName: "Jane", Status: entity.StatusPending}
	store.updateErr = &backend.ServerError{Status: 400, Message: "Worker not found"}
	notes := notify.NewQueue(0)
	c := NewController(store, Options{Debounce: -1, Notify: notes})
	defer c.Close()
	ctx := context.Background()

	c.OpenEdit(ctx, 7)
	if _, err := c.SubmitEdit(ctx); err == nil {
		t.Fatal("expected error")
	}
	if c.Editing() != 7 {
		t.Error("edit dialog should stay open")
	}
	drained := notes.Drain()
	if len(drained) != 1 || drained[0].Message != "Worker not found" {
		t.Errorf("notifications = %+v", drained)
	}
}

func TestSubmitEditMergesPartialResponse(t *testing.T) {
	fb := testutil.NewBackend(t)
	fb.PartialPatch = true
	admin := fb.AddUser("Admin", "admin@shop.test", "secret1", entity.RoleAdmin)
	worker := fb.AddUser("Wendy", "wendy@shop.test", "secret2", entity.RoleWorker)
	screen := fb.SeedItem(entity.Item{Name: "Screen", Price: decimal.NewFromInt(100)})
	rec := fb.SeedRecord(entity.RepairRecord{CustomerName: "Jane", CustomerNumber: "555", DeviceIssue: "cracked"})

	client := backend.NewClient(fb.URL(), time.Second, nil)
	bound := client.Bind(staticCreds(fb.IssueToken(admin, time.Hour)))
	editor := lineitem.NewEditor(bound)
	editor.SetCatalog([]entity.Item{screen})
	notes := notify.NewQueue(0)
	c := NewController(bound, Options{Debounce: -1, Editor: editor, Notify: notes})
	defer c.Close()
	ctx := context.Background()

	c.Refresh(ctx)
	if _, err := c.OpenEdit(ctx, rec.ID); err != nil {
		t.Fatalf("OpenEdit: %v", err)
	}
	i := editor.Add()
	editor.SetItem(i, screen.ID)
	editor.SetQuantity(i, 2)

	completed := entity.StatusCompleted
	wid := worker.ID
	if _, err := c.UpdateDraft(DraftPatch{Status: &completed, AssignedToID: &wid}); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}

	merged, err := c.SubmitEdit(ctx)
	if err != nil {
		t.Fatalf("SubmitEdit: %v", err)
	}
	// Completing without a final cost is allowed.
	if merged.Status != entity.StatusCompleted || merged.CustomerName != "Jane" || merged.FinalCost.Valid {
		t.Errorf("merged = %+v", merged)
	}

	st := c.State()
	if st.SelectedForEdit != nil {
		t.Error("edit dialog should close")
	}
	if st.Records[0].Status != entity.StatusCompleted || st.Records[0].CustomerNumber != "555" {
		t.Errorf("row = %+v", st.Records[0])
	}

	stored, _ := fb.Record(rec.ID)
	if len(stored.RepairItems) != 1 || stored.RepairItems[0].Quantity != 2 ||
		!stored.RepairItems[0].PriceAtTime.Equal(decimal.NewFromInt(100)) {
		t.Errorf("stored items = %+v", stored.RepairItems)
	}
	if stored.AssignedTo == nil || stored.AssignedTo.ID != worker.ID {
		t.Errorf("assignee = %+v", stored.AssignedTo)
	}

	drained := notes.Drain()
	if len(drained) != 1 || drained[0].Level != notify.LevelSuccess {
		t.Errorf("notifications = %+v", drained)
	}
}

// Two admins editing the same record: the backend keeps whichever write
// lands last. No merge or conflict detection happens here.
func TestConcurrentAdminEditsLastWriteWins(t *testing.T) {
	fb := testutil.NewBackend(t)
	a := fb.AddUser("Ann", "ann@shop.test", "secret1", entity.RoleAdmin)
	b := fb.AddUser("Bob", "bob@shop.test", "secret1", entity.RoleAdmin)
	rec := fb.SeedRecord(entity.RepairRecord{CustomerName: "Jane", DeviceIssue: "battery"})
	client := backend.NewClient(fb.URL(), time.Second, nil)

	ca := NewController(client.Bind(staticCreds(fb.IssueToken(a, time.Hour))), Options{Debounce: -1})
	cb := NewController(client.Bind(staticCreds(fb.IssueToken(b, time.Hour))), Options{Debounce: -1})
	defer ca.Close()
	defer cb.Close()
	ctx := context.Background()

	ca.OpenEdit(ctx, rec.ID)
	cb.OpenEdit(ctx, rec.ID)

	inProgress := entity.StatusInProgress
	ca.UpdateDraft(DraftPatch{Status: &inProgress})
	completed := entity.StatusCompleted
	cost := decimal.RequireFromString("80.00")
	cb.UpdateDraft(DraftPatch{Status: &completed, FinalCost: &cost})

	if _, err := ca.SubmitEdit(ctx); err != nil {
		t.Fatalf("A submit: %v", err)
	}
	if _, err := cb.SubmitEdit(ctx); err != nil {
		t.Fatalf("B submit: %v", err)
	}

	stored, _ := fb.Record(rec.ID)
	if stored.Status != entity.StatusCompleted || !stored.FinalCost.Decimal.Equal(cost) {
		t.Errorf("stored = %s %s, want B's write", stored.Status, stored.FinalCost.Decimal)
	}
}

// slowUpdateStore holds UpdateRecord until release is closed.
type slowUpdateStore struct {
	*fakeStore
	entered chan struct{}
	release chan struct{}
}

func (s *slowUpdateStore) UpdateRecord(ctx context.Context, id int64, patch backend.RecordPatch) (*entity.RepairRecord, string, error) {
	close(s.entered)
	<-s.release
	return s.fakeStore.UpdateRecord(ctx, id, patch)
}

func TestLateSubmitKeepsNewerEditDrafts(t *testing.T) {
	base := newFakeStore(2)
	base.records[1] = entity.RepairRecord{ID: 1, Status: entity.StatusPending}
	base.records[2] = entity.RepairRecord{ID: 2, Status: entity.StatusPending, RepairItems: []entity.RepairLineItem{
		{ID: 9, ItemID: 3, Quantity: 1, PriceAtTime: decimal.NewFromInt(25)},
	}}
	store := &slowUpdateStore{fakeStore: base, entered: make(chan struct{}), release: make(chan struct{})}
	editor := lineitem.NewEditor(nil)
	c := NewController(store, Options{Debounce: -1, Editor: editor, Notify: notify.NewQueue(0)})
	defer c.Close()
	ctx := context.Background()

	if _, err := c.OpenEdit(ctx, 1); err != nil {
		t.Fatalf("OpenEdit(1): %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitEdit(ctx)
		done <- err
	}()
	<-store.entered

	c.CancelEdit()
	if _, err := c.OpenEdit(ctx, 2); err != nil {
		t.Fatalf("OpenEdit(2): %v", err)
	}
	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("SubmitEdit(1): %v", err)
	}

	if got := c.Editing(); got != 2 {
		t.Fatalf("editing = %d, want 2", got)
	}
	if n := len(editor.Drafts()); n != 1 {
		t.Errorf("record 2 drafts = %d, want 1", n)
	}
}

func TestLateSubmitKeepsReopenedSameRecord(t *testing.T) {
	base := newFakeStore(1)
	base.records[1] = entity.RepairRecord{ID: 1, Status: entity.StatusPending, RepairItems: []entity.RepairLineItem{
		{ID: 9, ItemID: 3, Quantity: 2, PriceAtTime: decimal.NewFromInt(10)},
	}}
	store := &slowUpdateStore{fakeStore: base, entered: make(chan struct{}), release: make(chan struct{})}
	editor := lineitem.NewEditor(nil)
	c := NewController(store, Options{Debounce: -1, Editor: editor, Notify: notify.NewQueue(0)})
	defer c.Close()
	ctx := context.Background()

	c.OpenEdit(ctx, 1)
	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitEdit(ctx)
		done <- err
	}()
	<-store.entered
	c.CancelEdit()
	c.OpenEdit(ctx, 1)
	close(store.release)
	<-done

	if c.Editing() != 1 || len(editor.Drafts()) != 1 {
		t.Errorf("reopened edit lost: editing=%d drafts=%d", c.Editing(), len(editor.Drafts()))
	}
}
