package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
)

// =============================================================================
// 物料目录 / 产品标签 / 人员
// =============================================================================

func (c *Client) ListItems(ctx context.Context, creds Credentials) ([]entity.Item, error) {
	var page Page[entity.Item]
	if _, err := c.doJSON(ctx, creds, http.MethodGet, "/items", nil, &page); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return page.Records, nil
}

func (c *Client) CreateItem(ctx context.Context, creds Credentials, in ItemInput) (*entity.Item, error) {
	var item entity.Item
	if _, err := c.doJSON(ctx, creds, http.MethodPost, "/items", in, &item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return &item, nil
}

func (c *Client) UpdateItem(ctx context.Context, creds Credentials, id int64, in ItemInput) (*entity.Item, error) {
	var item entity.Item
	if _, err := c.doJSON(ctx, creds, http.MethodPut, fmt.Sprintf("/items/%d", id), in, &item); err != nil {
		return nil, fmt.Errorf("update item %d: %w", id, err)
	}
	return &item, nil
}

func (c *Client) DeleteItem(ctx context.Context, creds Credentials, id int64) error {
	if _, err := c.doJSON(ctx, creds, http.MethodDelete, fmt.Sprintf("/items/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	return nil
}

func (c *Client) ListProducts(ctx context.Context, creds Credentials) ([]entity.Product, error) {
	var page Page[entity.Product]
	if _, err := c.doJSON(ctx, creds, http.MethodGet, "/products", nil, &page); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return page.Records, nil
}

func (c *Client) CreateProduct(ctx context.Context, creds Credentials, in ProductInput) (*entity.Product, error) {
	var p entity.Product
	if _, err := c.doJSON(ctx, creds, http.MethodPost, "/products", in, &p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &p, nil
}

func (c *Client) UpdateProduct(ctx context.Context, creds Credentials, id int64, in ProductInput) (*entity.Product, error) {
	var p entity.Product
	if _, err := c.doJSON(ctx, creds, http.MethodPut, fmt.Sprintf("/products/%d", id), in, &p); err != nil {
		return nil, fmt.Errorf("update product %d: %w", id, err)
	}
	return &p, nil
}

func (c *Client) DeleteProduct(ctx context.Context, creds Credentials, id int64) error {
	if _, err := c.doJSON(ctx, creds, http.MethodDelete, fmt.Sprintf("/products/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}
	return nil
}

func (c *Client) ListWorkers(ctx context.Context, creds Credentials) ([]entity.Worker, error) {
	var page Page[entity.Worker]
	if _, err := c.doJSON(ctx, creds, http.MethodGet, "/workers", nil, &page); err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return page.Records, nil
}

func (c *Client) CreateWorker(ctx context.Context, creds Credentials, in WorkerInput) (*entity.Worker, string, error) {
	var w entity.Worker
	msg, err := c.doJSON(ctx, creds, http.MethodPost, "/workers", in, &w)
	if err != nil {
		return nil, "", fmt.Errorf("create worker: %w", err)
	}
	return &w, msg, nil
}

func (c *Client) UpdateWorker(ctx context.Context, creds Credentials, id int64, in WorkerInput) (*entity.Worker, string, error) {
	var w entity.Worker
	msg, err := c.doJSON(ctx, creds, http.MethodPut, fmt.Sprintf("/workers/%d", id), in, &w)
	if err != nil {
		return nil, "", fmt.Errorf("update worker %d: %w", id, err)
	}
	return &w, msg, nil
}

func (c *Client) DeleteWorker(ctx context.Context, creds Credentials, id int64) error {
	if _, err := c.doJSON(ctx, creds, http.MethodDelete, fmt.Sprintf("/workers/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete worker %d: %w", id, err)
	}
	return nil
}

// Login POST /auth/login (unauthenticated)
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	body := map[string]string{"email": email, "password": password}
	if _, err := c.doJSON(ctx, nil, http.MethodPost, "/auth/login", body, &res); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.AccessToken == "" {
		return nil, &ServerError{Status: http.StatusBadGateway, Message: "Invalid response format"}
	}
	return &res, nil
}
