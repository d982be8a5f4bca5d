// Package jobs is the worker side of the shop: accepting pending jobs and
// moving accepted ones through their lifecycle.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/notify"
	"github.com/bitfantasy/repairdesk/internal/desk/records"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"go.uber.org/zap"
)

const DefaultBannerTimeout = 5 * time.Second

// Backend is the slice of the record API the workflow calls.
type Backend interface {
	AcceptJob(ctx context.Context, id int64) (string, error)
	UpdateRecord(ctx context.Context, id int64, patch backend.RecordPatch) (*entity.RepairRecord, string, error)
}

type Options struct {
	BannerTimeout time.Duration
	Notify        *notify.Queue
	Logger        *zap.Logger
}

// Workflow 接单流程
type Workflow struct {
	api    Backend
	queue  *records.Controller
	mine   *records.Controller
	banner *Banner
	notes  *notify.Queue
	logger *zap.Logger
}

// New wires the workflow to the pending queue and the worker's own jobs
// list. Either controller may be nil.
func New(api Backend, queue, mine *records.Controller, opts Options) *Workflow {
	if opts.BannerTimeout <= 0 {
		opts.BannerTimeout = DefaultBannerTimeout
	}
	if opts.Notify == nil {
		opts.Notify = notify.NewQueue(0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Workflow{
		api:    api,
		queue:  queue,
		mine:   mine,
		banner: NewBanner(opts.BannerTimeout),
		notes:  opts.Notify,
		logger: opts.Logger,
	}
}

func (w *Workflow) Banner() *Banner {
	return w.banner
}

func (w *Workflow) Close() {
	w.banner.Stop()
}

// Accept claims a pending job for the current worker. On failure the queue
// is left as it was and the server's message is shown in the banner.
func (w *Workflow) Accept(ctx context.Context, id int64) (string, error) {
	msg, err := w.api.AcceptJob(ctx, id)
	if err != nil {
		w.logger.Warn("accept job failed", zap.Int64("record_id", id), zap.Error(err))
		w.banner.Show(backend.Message(err))
		return "", err
	}

	w.banner.Clear()
	if msg == "" {
		msg = "Job accepted successfully"
	}
	w.notes.Success(msg)
	w.logger.Info("job accepted", zap.Int64("record_id", id))

	var errs []error
	if w.queue != nil {
		errs = append(errs, w.queue.Refresh(ctx))
	}
	if w.mine != nil {
		errs = append(errs, w.mine.Refresh(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		w.logger.Warn("refresh after accept failed", zap.Error(err))
	}
	return msg, nil
}

// UpdateStatus moves one of the worker's jobs to in-progress or completed.
func (w *Workflow) UpdateStatus(ctx context.Context, id int64, status entity.RepairStatus) (*entity.RepairRecord, error) {
	if status != entity.StatusInProgress && status != entity.StatusCompleted {
		var v validate.Errors
		v.Add("status", "Status must be in-progress or completed")
		return nil, v.Err()
	}

	rec, msg, err := w.api.UpdateRecord(ctx, id, backend.RecordPatch{Status: &status})
	if err != nil {
		w.logger.Warn("update job status failed", zap.Int64("record_id", id), zap.Error(err))
		w.notes.Error(backend.Message(err))
		return nil, err
	}

	if msg == "" {
		msg = "Status updated successfully"
	}
	w.notes.Success(msg)
	w.logger.Info("job status changed", zap.Int64("record_id", id), zap.String("status", string(status)))

	if w.mine != nil {
		if err := w.mine.Refresh(ctx); err != nil {
			w.logger.Warn("refresh after status change failed", zap.Error(err))
		}
	}
	return rec, nil
}
