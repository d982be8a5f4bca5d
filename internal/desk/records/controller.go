// Package records is the list/detail state machine behind the dashboards:
// month-windowed, paginated, filterable search with view and edit dialogs.
package records

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/debounce"
	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/lineitem"
	"github.com/bitfantasy/repairdesk/internal/desk/notify"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrEditOpen = errors.New("an edit is in progress")
	ErrNoEdit   = errors.New("no record is being edited")
	// ErrSuperseded is returned when a newer detail request overtook this one.
	ErrSuperseded = errors.New("superseded by a newer request")
)

const (
	DefaultPageSize = 10
	DefaultDebounce = time.Second
)

// Source selects which backend list the controller drives.
type Source string

const (
	// SourceAll is the admin list of every record.
	SourceAll Source = "all"
	// SourcePending is the worker queue of unaccepted jobs; status is pinned.
	SourcePending Source = "pending"
	// SourceMine is the worker's accepted jobs.
	SourceMine Source = "mine"
)

// Store is the slice of the backend the controller needs.
type Store interface {
	ListRecords(ctx context.Context, f backend.ListFilter) (*backend.RecordPage, error)
	ListMyJobs(ctx context.Context, f backend.ListFilter) (*backend.RecordPage, error)
	GetRecord(ctx context.Context, id int64) (*entity.RepairRecord, error)
	UpdateRecord(ctx context.Context, id int64, patch backend.RecordPatch) (*entity.RepairRecord, string, error)
}

type Options struct {
	Source   Source
	PageSize int
	Debounce time.Duration
	Editor   *lineitem.Editor
	Notify   *notify.Queue
	Logger   *zap.Logger
}

// EditDraft holds the editable scalar fields of the record being edited.
type EditDraft struct {
	Status             entity.RepairStatus `json:"status"`
	AssignedToID       int64               `json:"assignedToId"`
	ExpectedRepairDate time.Time           `json:"expectedRepairDate"`
	FinalCost          decimal.NullDecimal `json:"finalCost"`
}

// DraftPatch changes some fields of the edit draft. Nil fields are left as is.
type DraftPatch struct {
	Status             *entity.RepairStatus `json:"status"`
	AssignedToID       *int64               `json:"assignedToId"`
	ExpectedRepairDate *time.Time           `json:"expectedRepairDate"`
	FinalCost          *decimal.Decimal     `json:"finalCost"`
}

// State is a snapshot of the controller.
type State struct {
	Source              Source                `json:"source"`
	Page                int                   `json:"page"`
	PageSize            int                   `json:"pageSize"`
	SearchTerm          string                `json:"searchTerm"`
	DebouncedSearchTerm string                `json:"debouncedSearchTerm"`
	StatusFilter        entity.RepairStatus   `json:"statusFilter"`
	MonthFilter         string                `json:"monthFilter"`
	Records             []entity.RepairRecord `json:"records"`
	Total               int                   `json:"total"`
	TotalPages          int                   `json:"totalPages"`
	HasPrev             bool                  `json:"hasPrev"`
	HasNext             bool                  `json:"hasNext"`
	SelectedForEdit     *entity.RepairRecord  `json:"selectedForEdit"`
	EditDraft           *EditDraft            `json:"editDraft,omitempty"`
	LineItems           []lineitem.Draft      `json:"lineItems,omitempty"`
	SelectedForView     *entity.RepairRecord  `json:"selectedForView"`
	Loading             bool                  `json:"loading"`
	Error               string                `json:"error,omitempty"`
}

// Controller 维修记录列表/详情控制器
type Controller struct {
	store    Store
	source   Source
	pageSize int
	editor   *lineitem.Editor
	notes    *notify.Queue
	logger   *zap.Logger
	debounce *debounce.Debouncer

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	page        int
	searchTerm  string
	debounced   string
	status      entity.RepairStatus
	month       string
	records     []entity.RepairRecord
	total       int
	editing     *entity.RepairRecord
	draft       EditDraft
	viewing     *entity.RepairRecord
	loading     bool
	lastErr     string
	listGen     uint64
	detailGen   uint64
	editSeq     uint64
	cancelFetch context.CancelFunc
}

func NewController(store Store, opts Options) *Controller {
	if opts.Source == "" {
		opts.Source = SourceAll
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Editor == nil {
		opts.Editor = lineitem.NewEditor(nil)
	}
	if opts.Notify == nil {
		opts.Notify = notify.NewQueue(0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:    store,
		source:   opts.Source,
		pageSize: opts.PageSize,
		editor:   opts.Editor,
		notes:    opts.Notify,
		logger:   opts.Logger.With(zap.String("source", string(opts.Source))),
		debounce: debounce.New(opts.Debounce),
		ctx:      ctx,
		cancel:   cancel,
		page:     1,
		records:  []entity.RepairRecord{},
	}
}

func (c *Controller) Source() Source {
	return c.source
}

// Editor is the line-item buffer seeded by OpenEdit.
func (c *Controller) Editor() *lineitem.Editor {
	return c.editor
}

// Close stops the debounce timer and abandons in-flight fetches.
func (c *Controller) Close() {
	c.debounce.Stop()
	c.cancel()
}

func (c *Controller) totalPagesLocked() int {
	return (c.total + c.pageSize - 1) / c.pageSize
}

func (c *Controller) maxPageLocked() int {
	return max(c.totalPagesLocked(), 1)
}

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	totalPages := c.totalPagesLocked()
	st := State{
		Source:              c.source,
		Page:                c.page,
		PageSize:            c.pageSize,
		SearchTerm:          c.searchTerm,
		DebouncedSearchTerm: c.debounced,
		StatusFilter:        c.status,
		MonthFilter:         c.month,
		Records:             append([]entity.RepairRecord{}, c.records...),
		Total:               c.total,
		TotalPages:          totalPages,
		HasPrev:             c.page > 1,
		HasNext:             c.page < totalPages,
		Loading:             c.loading,
		Error:               c.lastErr,
	}
	if c.editing != nil {
		rec := *c.editing
		draft := c.draft
		st.SelectedForEdit = &rec
		st.EditDraft = &draft
		st.LineItems = c.editor.Drafts()
	}
	if c.viewing != nil {
		rec := *c.viewing
		st.SelectedForView = &rec
	}
	return st
}

// =============================================================================
// 列表
// =============================================================================

func (c *Controller) filterLocked() backend.ListFilter {
	f := backend.ListFilter{
		Search: c.debounced,
		Status: c.status,
		Limit:  c.pageSize,
		Offset: (c.page - 1) * c.pageSize,
	}
	if c.source == SourcePending {
		f.Status = entity.StatusPending
	}
	if c.month != "" {
		// month was validated when set
		f.StartDate, f.EndDate, _ = ParseMonth(c.month)
	}
	return f
}

// Filter is the active query without paging.
func (c *Controller) Filter() backend.ListFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.filterLocked()
	f.Limit, f.Offset = 0, 0
	return f
}

// Refresh re-issues the list fetch for the current state. A response that
// arrives after a newer fetch was issued is discarded.
func (c *Controller) Refresh(ctx context.Context) error {
	for {
		c.mu.Lock()
		c.listGen++
		ticket := c.listGen
		filter := c.filterLocked()
		c.loading = true
		if c.cancelFetch != nil {
			c.cancelFetch()
		}
		fctx, cancel := context.WithCancel(ctx)
		c.cancelFetch = cancel
		c.mu.Unlock()

		var page *backend.RecordPage
		var err error
		if c.source == SourceMine {
			page, err = c.store.ListMyJobs(fctx, filter)
		} else {
			page, err = c.store.ListRecords(fctx, filter)
		}
		cancel()

		c.mu.Lock()
		if ticket != c.listGen {
			c.mu.Unlock()
			c.logger.Debug("discarding stale list response", zap.Uint64("ticket", ticket))
			return nil
		}
		c.cancelFetch = nil
		c.loading = false
		if err != nil {
			c.lastErr = backend.Message(err)
			c.mu.Unlock()
			c.logger.Warn("list records failed", zap.Error(err))
			c.notes.Error(backend.Message(err))
			return err
		}
		c.records = page.Records
		c.total = page.Total
		c.lastErr = ""
		if c.page <= c.maxPageLocked() {
			c.mu.Unlock()
			return nil
		}
		// The result set shrank under the current page.
		c.page = c.maxPageLocked()
		c.mu.Unlock()
	}
}

// SetSearchTerm records the raw term now and applies it to the list once
// typing has paused.
func (c *Controller) SetSearchTerm(term string) {
	c.mu.Lock()
	c.searchTerm = term
	c.mu.Unlock()

	c.debounce.Trigger(func() {
		c.mu.Lock()
		if c.debounced == term {
			c.mu.Unlock()
			return
		}
		c.debounced = term
		c.page = 1
		c.mu.Unlock()
		c.Refresh(c.ctx)
	})
}

// SetFilters sets the status and month filters and returns to page 1.
// An empty value clears that filter.
func (c *Controller) SetFilters(ctx context.Context, status entity.RepairStatus, month string) error {
	var v validate.Errors
	if status != "" && !status.Valid() {
		v.Add("status", "Unknown status")
	}
	if month != "" {
		if _, _, err := ParseMonth(month); err != nil {
			v.Add("month", "Month must be YYYY-MM")
		}
	}
	if err := v.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.status = status
	c.month = month
	c.page = 1
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// SetPage moves to page p, clamped to [1, max(totalPages, 1)]. Moving to the
// current page is a no-op.
func (c *Controller) SetPage(ctx context.Context, p int) error {
	c.mu.Lock()
	p = min(max(p, 1), c.maxPageLocked())
	if p == c.page {
		c.mu.Unlock()
		return nil
	}
	c.page = p
	c.mu.Unlock()
	return c.Refresh(ctx)
}

func (c *Controller) NextPage(ctx context.Context) error {
	c.mu.Lock()
	p := c.page + 1
	c.mu.Unlock()
	return c.SetPage(ctx, p)
}

func (c *Controller) PrevPage(ctx context.Context) error {
	c.mu.Lock()
	p := c.page - 1
	c.mu.Unlock()
	return c.SetPage(ctx, p)
}

// =============================================================================
// 详情 / 编辑
// =============================================================================

func (c *Controller) fetchDetail(ctx context.Context, id int64) (*entity.RepairRecord, uint64, error) {
	c.mu.Lock()
	c.detailGen++
	ticket := c.detailGen
	c.mu.Unlock()

	rec, err := c.store.GetRecord(ctx, id)
	if err != nil {
		c.logger.Warn("get record failed", zap.Int64("record_id", id), zap.Error(err))
		c.notes.Error(backend.Message(err))
		return nil, ticket, err
	}
	return rec, ticket, nil
}

// OpenView loads the full record into the view dialog. Refused while an
// edit is open.
func (c *Controller) OpenView(ctx context.Context, id int64) (*entity.RepairRecord, error) {
	c.mu.Lock()
	editing := c.editing != nil
	c.mu.Unlock()
	if editing {
		return nil, ErrEditOpen
	}

	rec, ticket, err := c.fetchDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editing != nil {
		return nil, ErrEditOpen
	}
	if ticket != c.detailGen {
		return nil, ErrSuperseded
	}
	c.viewing = rec
	return rec, nil
}

func (c *Controller) CloseView() {
	c.mu.Lock()
	c.viewing = nil
	c.mu.Unlock()
}

// OpenEdit loads the full record into the edit dialog, closing any view and
// seeding the line-item editor.
func (c *Controller) OpenEdit(ctx context.Context, id int64) (*entity.RepairRecord, error) {
	rec, ticket, err := c.fetchDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ticket != c.detailGen {
		return nil, ErrSuperseded
	}
	c.editing = rec
	c.editSeq++
	c.viewing = nil
	c.draft = EditDraft{
		Status:             rec.Status,
		ExpectedRepairDate: rec.ExpectedRepairDate,
		FinalCost:          rec.FinalCost,
	}
	if rec.Assigned() {
		c.draft.AssignedToID = rec.AssignedTo.ID
	}
	c.editor.Load(rec.RepairItems)
	return rec, nil
}

// UpdateDraft changes the edit draft.
func (c *Controller) UpdateDraft(p DraftPatch) (EditDraft, error) {
	var v validate.Errors
	if p.Status != nil && !p.Status.Valid() {
		v.Add("status", "Unknown status")
	}
	if p.FinalCost != nil && p.FinalCost.IsNegative() {
		v.Add("finalCost", "Final cost cannot be negative")
	}
	if err := v.Err(); err != nil {
		return EditDraft{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editing == nil {
		return EditDraft{}, ErrNoEdit
	}
	if p.Status != nil {
		c.draft.Status = *p.Status
	}
	if p.AssignedToID != nil {
		c.draft.AssignedToID = *p.AssignedToID
	}
	if p.ExpectedRepairDate != nil {
		c.draft.ExpectedRepairDate = *p.ExpectedRepairDate
	}
	if p.FinalCost != nil {
		c.draft.FinalCost = decimal.NewNullDecimal(*p.FinalCost)
	}
	return c.draft, nil
}

func (c *Controller) CancelEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editing = nil
	c.editSeq++
	c.editor.Reset()
}

// SubmitEdit saves the draft. On success the list row is shallow-merged with
// the response and the dialog closes; on failure the dialog stays open.
func (c *Controller) SubmitEdit(ctx context.Context) (*entity.RepairRecord, error) {
	c.mu.Lock()
	if c.editing == nil {
		c.mu.Unlock()
		return nil, ErrNoEdit
	}
	id := c.editing.ID
	seq := c.editSeq
	draft := c.draft
	c.mu.Unlock()

	items := c.editor.Serialize()
	patch := backend.RecordPatch{RepairItems: &items}
	if draft.Status != "" {
		patch.Status = &draft.Status
	}
	if draft.AssignedToID > 0 {
		patch.AssignedToID = &draft.AssignedToID
	}
	if !draft.ExpectedRepairDate.IsZero() {
		patch.ExpectedRepairDate = &draft.ExpectedRepairDate
	}
	if draft.FinalCost.Valid {
		patch.FinalCost = &draft.FinalCost.Decimal
	}

	updated, msg, err := c.store.UpdateRecord(ctx, id, patch)
	if err != nil {
		c.logger.Warn("update record failed", zap.Int64("record_id", id), zap.Error(err))
		c.notes.Error(backend.Message(err))
		return nil, err
	}

	c.mu.Lock()
	merged := *updated
	for i := range c.records {
		if c.records[i].ID == id {
			c.records[i].MergeFrom(updated)
			merged = c.records[i]
			break
		}
	}
	// A dialog opened while the request was in flight keeps its drafts.
	if c.editing != nil && c.editSeq == seq {
		c.editing = nil
		c.editSeq++
		c.editor.Reset()
	}
	c.mu.Unlock()

	if msg == "" {
		msg = "Repair record updated successfully"
	}
	c.notes.Success(msg)
	c.logger.Info("record updated", zap.Int64("record_id", id), zap.String("status", string(merged.Status)))
	return &merged, nil
}

// Editing returns the id of the record being edited, or zero.
func (c *Controller) Editing() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editing == nil {
		return 0
	}
	return c.editing.ID
}
