package service

import (
	"context"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"go.uber.org/zap"
)

// CatalogService 物料 / 标签 / 维修工管理，转发到后端
type CatalogService struct {
	client *backend.Client
	logger *zap.Logger
}

func NewCatalogService(client *backend.Client, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{client: client, logger: logger}
}

// ===== 物料 =====

func (s *CatalogService) ListItems(ctx context.Context, creds backend.Credentials) ([]entity.Item, error) {
	return s.client.ListItems(ctx, creds)
}

func (s *CatalogService) CreateItem(ctx context.Context, creds backend.Credentials, in backend.ItemInput) (*entity.Item, error) {
	if err := validate.ItemForm(in.Name, in.Stock); err != nil {
		return nil, err
	}
	return s.client.CreateItem(ctx, creds, in)
}

func (s *CatalogService) UpdateItem(ctx context.Context, creds backend.Credentials, id int64, in backend.ItemInput) (*entity.Item, error) {
	if err := validate.ItemForm(in.Name, in.Stock); err != nil {
		return nil, err
	}
	return s.client.UpdateItem(ctx, creds, id, in)
}

func (s *CatalogService) DeleteItem(ctx context.Context, creds backend.Credentials, id int64) error {
	return s.client.DeleteItem(ctx, creds, id)
}

// ===== 标签 =====

func (s *CatalogService) ListProducts(ctx context.Context, creds backend.Credentials) ([]entity.Product, error) {
	return s.client.ListProducts(ctx, creds)
}

func (s *CatalogService) CreateProduct(ctx context.Context, creds backend.Credentials, in backend.ProductInput) (*entity.Product, error) {
	var v validate.Errors
	v.Required("name", "Name", in.Name)
	if err := v.Err(); err != nil {
		return nil, err
	}
	return s.client.CreateProduct(ctx, creds, in)
}

func (s *CatalogService) UpdateProduct(ctx context.Context, creds backend.Credentials, id int64, in backend.ProductInput) (*entity.Product, error) {
	var v validate.Errors
	v.Required("name", "Name", in.Name)
	if err := v.Err(); err != nil {
		return nil, err
	}
	return s.client.UpdateProduct(ctx, creds, id, in)
}

func (s *CatalogService) DeleteProduct(ctx context.Context, creds backend.Credentials, id int64) error {
	return s.client.DeleteProduct(ctx, creds, id)
}

// ===== 维修工 =====

// ListWorkers returns the roster filtered by a case-insensitive substring of
// name or email. The backend has no search parameter for workers.
func (s *CatalogService) ListWorkers(ctx context.Context, creds backend.Credentials, query string) ([]entity.Worker, error) {
	all, err := s.client.ListWorkers(ctx, creds)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Worker, 0, len(all))
	for _, w := range all {
		if w.Matches(query) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *CatalogService) CreateWorker(ctx context.Context, creds backend.Credentials, in backend.WorkerInput) (*entity.Worker, string, error) {
	if err := validate.WorkerForm(in.Name, in.Email, in.Password, true); err != nil {
		return nil, "", err
	}
	w, msg, err := s.client.CreateWorker(ctx, creds, in)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("worker created", zap.Int64("worker_id", w.ID))
	return w, msg, nil
}

// UpdateWorker leaves the password unchanged when in.Password is empty.
func (s *CatalogService) UpdateWorker(ctx context.Context, creds backend.Credentials, id int64, in backend.WorkerInput) (*entity.Worker, string, error) {
	if err := validate.WorkerForm(in.Name, in.Email, in.Password, false); err != nil {
		return nil, "", err
	}
	return s.client.UpdateWorker(ctx, creds, id, in)
}

func (s *CatalogService) DeleteWorker(ctx context.Context, creds backend.Credentials, id int64) error {
	return s.client.DeleteWorker(ctx, creds, id)
}
