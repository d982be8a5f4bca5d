package service

import (
	"context"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"golang.org/x/sync/errgroup"
)

// LowStockThreshold 库存低于该值视为低库存
const LowStockThreshold = 5

// DashboardStats 管理员首页概览
type DashboardStats struct {
	TotalItems     int           `json:"totalItems"`
	LowStockItems  int           `json:"lowStockItems"`
	ActiveWorkers  int           `json:"activeWorkers"`
	PendingRepairs int           `json:"pendingRepairs"`
	LowStock       []entity.Item `json:"lowStock"`
}

// Stats gathers the admin overview. The three backend calls run
// concurrently; any failure fails the whole overview.
func (s *CatalogService) Stats(ctx context.Context, creds backend.Credentials) (*DashboardStats, error) {
	var (
		items   []entity.Item
		workers []entity.Worker
		pending *backend.RecordPage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.client.ListItems(gctx, creds)
		return err
	})
	g.Go(func() error {
		var err error
		workers, err = s.client.ListWorkers(gctx, creds)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = s.client.ListRecords(gctx, creds, backend.ListFilter{Status: entity.StatusPending, Limit: 1})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalItems:     len(items),
		PendingRepairs: pending.Total,
		LowStock:       []entity.Item{},
	}
	for _, it := range items {
		if it.Stock < LowStockThreshold {
			stats.LowStock = append(stats.LowStock, it)
		}
	}
	stats.LowStockItems = len(stats.LowStock)
	for _, w := range workers {
		if w.Role == "" || w.Role == entity.RoleWorker {
			stats.ActiveWorkers++
		}
	}
	return stats, nil
}
