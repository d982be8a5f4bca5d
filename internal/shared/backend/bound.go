package backend

import (
	"context"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
)

// Bound pairs a Client with one login's credentials so that consumers can
// depend on narrow, credential-free interfaces.
type Bound struct {
	client *Client
	creds  Credentials
}

// Bind returns a view of c that authenticates every call with creds.
func (c *Client) Bind(creds Credentials) *Bound {
	return &Bound{client: c, creds: creds}
}

func (b *Bound) Credentials() Credentials {
	return b.creds
}

func (b *Bound) ListRecords(ctx context.Context, f ListFilter) (*RecordPage, error) {
	return b.client.ListRecords(ctx, b.creds, f)
}

func (b *Bound) ListMyJobs(ctx context.Context, f ListFilter) (*RecordPage, error) {
	return b.client.ListMyJobs(ctx, b.creds, f)
}

func (b *Bound) GetRecord(ctx context.Context, id int64) (*entity.RepairRecord, error) {
	return b.client.GetRecord(ctx, b.creds, id)
}

func (b *Bound) UpdateRecord(ctx context.Context, id int64, patch RecordPatch) (*entity.RepairRecord, string, error) {
	return b.client.UpdateRecord(ctx, b.creds, id, patch)
}

func (b *Bound) CreateRecord(ctx context.Context, in CreateRecordInput, uploads []Upload) (*entity.RepairRecord, string, error) {
	return b.client.CreateRecord(ctx, b.creds, in, uploads)
}

func (b *Bound) AcceptJob(ctx context.Context, id int64) (string, error) {
	return b.client.AcceptJob(ctx, b.creds, id)
}

// HasToken reports whether the bound credentials carry a bearer token.
func (b *Bound) HasToken() bool {
	return b.creds != nil && b.creds.BearerToken() != ""
}

func (b *Bound) FetchFile(ctx context.Context, recordID, fileID int64) (*File, error) {
	return b.client.FetchFile(ctx, b.creds, recordID, fileID)
}

func (b *Bound) ListItems(ctx context.Context) ([]entity.Item, error) {
	return b.client.ListItems(ctx, b.creds)
}

func (b *Bound) CreateItem(ctx context.Context, in ItemInput) (*entity.Item, error) {
	return b.client.CreateItem(ctx, b.creds, in)
}

func (b *Bound) ListWorkers(ctx context.Context) ([]entity.Worker, error) {
	return b.client.ListWorkers(ctx, b.creds)
}
