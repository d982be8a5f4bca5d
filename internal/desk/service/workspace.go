// Package service owns the per-session dashboard state and the operations
// the HTTP layer drives on it.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/activity"
	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/export"
	"github.com/bitfantasy/repairdesk/internal/desk/jobs"
	"github.com/bitfantasy/repairdesk/internal/desk/lineitem"
	"github.com/bitfantasy/repairdesk/internal/desk/media"
	"github.com/bitfantasy/repairdesk/internal/desk/notify"
	"github.com/bitfantasy/repairdesk/internal/desk/records"
	"github.com/bitfantasy/repairdesk/internal/desk/session"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	ErrForbidden   = errors.New("not allowed for this role")
	ErrUnknownList = errors.New("unknown list")
	ErrNoMedia     = errors.New("media handle not found")
)

// ActivityLog stores and lists audit entries.
type ActivityLog interface {
	activity.Recorder
	FindByRecord(ctx context.Context, recordID int64, page, pageSize int) ([]activity.Log, int64, error)
}

type Options struct {
	PageSize      int
	Debounce      time.Duration
	BannerTimeout time.Duration
	ExportMaxRows int
}

// Workspace 单个会话的工作台
//
// An admin workspace drives the all-records list with its edit dialog. A
// worker workspace drives the pending queue, the worker's own jobs and the
// accept workflow.
type Workspace struct {
	SessionID string
	User      entity.User
	ExpiresAt time.Time

	api      *backend.Bound
	all      *records.Controller
	queue    *records.Controller
	mine     *records.Controller
	jobs     *jobs.Workflow
	editor   *lineitem.Editor
	notes    *notify.Queue
	resolver *media.Resolver
	registry *media.Registry
	slot     media.Slot
	exporter *export.Exporter
	activity ActivityLog
	logger   *zap.Logger

	closeOnce sync.Once
}

func newWorkspace(client *backend.Client, sess *session.Session, registry *media.Registry, log ActivityLog, opts Options, logger *zap.Logger) *Workspace {
	api := client.Bind(sess)
	logger = logger.With(zap.String("session_id", sess.ID), zap.Int64("user_id", sess.User.ID))
	w := &Workspace{
		SessionID: sess.ID,
		User:      sess.User,
		ExpiresAt: sess.ExpiresAt,
		api:       api,
		notes:     notify.NewQueue(0),
		registry:  registry,
		resolver:  media.NewResolver(api, registry, logger),
		activity:  log,
		logger:    logger,
	}
	ctrlOpts := func(src records.Source) records.Options {
		return records.Options{
			Source:   src,
			PageSize: opts.PageSize,
			Debounce: opts.Debounce,
			Notify:   w.notes,
			Logger:   logger,
		}
	}
	if sess.User.IsAdmin() {
		w.editor = lineitem.NewEditor(api)
		o := ctrlOpts(records.SourceAll)
		o.Editor = w.editor
		w.all = records.NewController(api, o)
		w.exporter = export.New(api, opts.ExportMaxRows, logger)
	} else {
		w.queue = records.NewController(api, ctrlOpts(records.SourcePending))
		w.mine = records.NewController(api, ctrlOpts(records.SourceMine))
		w.jobs = jobs.New(api, w.queue, w.mine, jobs.Options{
			BannerTimeout: opts.BannerTimeout,
			Notify:        w.notes,
			Logger:        logger,
		})
	}
	return w
}

func (w *Workspace) controllers() []*records.Controller {
	var out []*records.Controller
	for _, c := range []*records.Controller{w.all, w.queue, w.mine} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// load runs the first fetch of every list. Failures surface as notifications.
func (w *Workspace) load(ctx context.Context) {
	for _, c := range w.controllers() {
		c.Refresh(ctx)
	}
}

// Close stops timers and revokes media. Safe to call more than once.
func (w *Workspace) Close() {
	w.closeOnce.Do(func() {
		for _, c := range w.controllers() {
			c.Close()
		}
		if w.jobs != nil {
			w.jobs.Close()
		}
		w.slot.Seal()
		w.logger.Debug("workspace closed")
	})
}

// List returns the named list controller. An empty name selects the role's
// default list: all for admins, pending for workers.
func (w *Workspace) List(name records.Source) (*records.Controller, error) {
	if name == "" {
		if w.all != nil {
			return w.all, nil
		}
		return w.queue, nil
	}
	var c *records.Controller
	switch name {
	case records.SourceAll:
		c = w.all
	case records.SourcePending:
		c = w.queue
	case records.SourceMine:
		c = w.mine
	default:
		return nil, ErrUnknownList
	}
	if c == nil {
		return nil, ErrForbidden
	}
	return c, nil
}

func (w *Workspace) Notifications() []notify.Notification {
	return w.notes.Drain()
}

func (w *Workspace) admin() error {
	if w.all == nil {
		return ErrForbidden
	}
	return nil
}

func (w *Workspace) worker() error {
	if w.jobs == nil {
		return ErrForbidden
	}
	return nil
}

func (w *Workspace) record(ctx context.Context, entry *activity.Log) {
	entry.OperatorID = w.User.ID
	entry.OperatorName = w.User.Name
	w.activity.Record(ctx, entry)
}

// =============================================================================
// 编辑（管理员）
// =============================================================================

// Editor is the admin line-item buffer.
func (w *Workspace) Editor() (*lineitem.Editor, error) {
	if err := w.admin(); err != nil {
		return nil, err
	}
	return w.editor, nil
}

// OpenEdit opens the edit dialog and loads the item catalog for the
// line-item picker.
func (w *Workspace) OpenEdit(ctx context.Context, id int64) (records.State, error) {
	if err := w.admin(); err != nil {
		return records.State{}, err
	}
	if _, err := w.all.OpenEdit(ctx, id); err != nil {
		return records.State{}, err
	}
	// The view dialog just closed; so does its media.
	w.slot.Close()
	items, err := w.api.ListItems(ctx)
	if err != nil {
		w.logger.Warn("load item catalog failed", zap.Error(err))
		w.notes.Error(backend.Message(err))
	} else {
		w.editor.SetCatalog(items)
	}
	return w.all.State(), nil
}

// SubmitEdit saves the edit dialog and records the change.
func (w *Workspace) SubmitEdit(ctx context.Context) (*entity.RepairRecord, error) {
	if err := w.admin(); err != nil {
		return nil, err
	}
	var from entity.RepairStatus
	if st := w.all.State(); st.SelectedForEdit != nil {
		from = st.SelectedForEdit.Status
	}
	rec, err := w.all.SubmitEdit(ctx)
	if err != nil {
		return nil, err
	}
	entry := &activity.Log{
		RecordID:   rec.ID,
		Action:     activity.ActionRecordUpdated,
		FromStatus: string(from),
		ToStatus:   string(rec.Status),
		Metadata:   activity.Metadata{"lineItems": len(rec.RepairItems)},
	}
	if rec.FinalCost.Valid {
		entry.Metadata["finalCost"] = rec.FinalCost.Decimal.String()
	}
	w.record(ctx, entry)
	return rec, nil
}

// CreateRecord submits the intake form and refreshes the list.
func (w *Workspace) CreateRecord(ctx context.Context, in backend.CreateRecordInput, uploads []backend.Upload) (*entity.RepairRecord, error) {
	if err := w.admin(); err != nil {
		return nil, err
	}
	rec, msg, err := w.api.CreateRecord(ctx, in, uploads)
	if err != nil {
		w.logger.Warn("create record failed", zap.Error(err))
		w.notes.Error(backend.Message(err))
		return nil, err
	}
	if msg == "" {
		msg = "Repair record created successfully"
	}
	w.notes.Success(msg)
	w.record(ctx, &activity.Log{
		RecordID: rec.ID,
		Action:   activity.ActionRecordCreated,
		ToStatus: string(rec.Status),
		Content:  rec.CustomerName,
		Metadata: activity.Metadata{"uploads": len(uploads)},
	})
	w.all.Refresh(ctx)
	return rec, nil
}

// Export renders the admin list's current filters as a workbook.
func (w *Workspace) Export(ctx context.Context) (*excelize.File, string, error) {
	if err := w.admin(); err != nil {
		return nil, "", err
	}
	return w.exporter.Export(ctx, w.all.Filter())
}

// =============================================================================
// 接单（维修工）
// =============================================================================

// Banner is the worker's accept-error line.
func (w *Workspace) Banner() string {
	if w.jobs == nil {
		return ""
	}
	return w.jobs.Banner().Message()
}

func (w *Workspace) Accept(ctx context.Context, id int64) (string, error) {
	if err := w.worker(); err != nil {
		return "", err
	}
	msg, err := w.jobs.Accept(ctx, id)
	if err != nil {
		return "", err
	}
	w.record(ctx, &activity.Log{
		RecordID:   id,
		Action:     activity.ActionJobAccepted,
		FromStatus: string(entity.StatusPending),
		ToStatus:   string(entity.StatusInProgress),
	})
	return msg, nil
}

func (w *Workspace) UpdateStatus(ctx context.Context, id int64, status entity.RepairStatus) (*entity.RepairRecord, error) {
	if err := w.worker(); err != nil {
		return nil, err
	}
	rec, err := w.jobs.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	w.record(ctx, &activity.Log{
		RecordID: id,
		Action:   activity.ActionStatusChanged,
		ToStatus: string(status),
	})
	return rec, nil
}

// =============================================================================
// 媒体
// =============================================================================

// openRecord finds id among the open dialogs so media can be resolved
// without another detail fetch.
func (w *Workspace) openRecord(ctx context.Context, id int64) (*entity.RepairRecord, error) {
	for _, c := range w.controllers() {
		st := c.State()
		for _, rec := range []*entity.RepairRecord{st.SelectedForView, st.SelectedForEdit} {
			if rec != nil && rec.ID == id {
				return rec, nil
			}
		}
	}
	return w.api.GetRecord(ctx, id)
}

// OpenMedia resolves a record's images and videos. The previous batch is
// revoked once the new one is ready.
func (w *Workspace) OpenMedia(ctx context.Context, recordID int64) ([]media.Handle, error) {
	rec, err := w.openRecord(ctx, recordID)
	if err != nil {
		w.notes.Error(backend.Message(err))
		return nil, err
	}
	scope, err := w.resolver.Acquire(ctx, recordID, rec.MediaRefs())
	if err != nil {
		w.notes.Error(backend.Message(err))
		return nil, err
	}
	if !w.slot.Put(scope) {
		return nil, ErrNoMedia
	}
	return scope.Handles(), nil
}

func (w *Workspace) CloseMedia() {
	w.slot.Close()
}

// MediaFile serves a handle owned by this workspace's open scope.
func (w *Workspace) MediaFile(handleID string) (media.Handle, []byte, error) {
	scope := w.slot.Current()
	if scope == nil {
		return media.Handle{}, nil, ErrNoMedia
	}
	for _, h := range scope.Handles() {
		if h.ID == handleID {
			if h, data, ok := w.registry.Open(handleID); ok {
				return h, data, nil
			}
			break
		}
	}
	return media.Handle{}, nil, ErrNoMedia
}

// =============================================================================
// Workspaces
// =============================================================================

// Workspaces 按会话管理工作台
type Workspaces struct {
	client   *backend.Client
	registry *media.Registry
	activity ActivityLog
	opts     Options
	logger   *zap.Logger

	mu    sync.Mutex
	items map[string]*Workspace
}

func NewWorkspaces(client *backend.Client, registry *media.Registry, log ActivityLog, opts Options, logger *zap.Logger) *Workspaces {
	if log == nil {
		log = activity.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspaces{
		client:   client,
		registry: registry,
		activity: log,
		opts:     opts,
		logger:   logger,
		items:    make(map[string]*Workspace),
	}
}

// Get returns the session's workspace, creating and loading it on first use.
func (ws *Workspaces) Get(ctx context.Context, sess *session.Session) *Workspace {
	ws.mu.Lock()
	if w, ok := ws.items[sess.ID]; ok {
		ws.mu.Unlock()
		return w
	}
	w := newWorkspace(ws.client, sess, ws.registry, ws.activity, ws.opts, ws.logger)
	ws.items[sess.ID] = w
	ws.mu.Unlock()

	ws.logger.Info("workspace created",
		zap.String("session_id", sess.ID),
		zap.String("role", string(sess.User.Role)),
	)
	w.load(ctx)
	return w
}

// Close ends the workspace of session id. Registered as a session teardown
// hook.
func (ws *Workspaces) Close(id string) {
	ws.mu.Lock()
	w, ok := ws.items[id]
	delete(ws.items, id)
	ws.mu.Unlock()
	if ok {
		w.Close()
	}
}

// CloseAll ends every workspace. Called on shutdown.
func (ws *Workspaces) CloseAll() {
	ws.mu.Lock()
	items := ws.items
	ws.items = make(map[string]*Workspace)
	ws.mu.Unlock()
	for _, w := range items {
		w.Close()
	}
}

// Sweep closes workspaces whose session expired by now and returns how many
// it closed. Sessions that expire without another request are only ever
// released here.
func (ws *Workspaces) Sweep(now time.Time) int {
	ws.mu.Lock()
	var expired []*Workspace
	for id, w := range ws.items {
		if !w.ExpiresAt.IsZero() && !now.Before(w.ExpiresAt) {
			expired = append(expired, w)
			delete(ws.items, id)
		}
	}
	ws.mu.Unlock()
	for _, w := range expired {
		w.Close()
	}
	if len(expired) > 0 {
		ws.logger.Info("expired workspaces closed", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (ws *Workspaces) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				ws.Sweep(now)
			}
		}
	}()
}

func (ws *Workspaces) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.items)
}

// Activity lists a record's audit trail.
func (ws *Workspaces) Activity(ctx context.Context, recordID int64, page, pageSize int) ([]activity.Log, int64, error) {
	return ws.activity.FindByRecord(ctx, recordID, page, pageSize)
}
