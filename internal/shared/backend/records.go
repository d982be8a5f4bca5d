package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"go.uber.org/zap"
)

// =============================================================================
// 维修记录
// =============================================================================

// ListRecords GET /repair-records
func (c *Client) ListRecords(ctx context.Context, creds Credentials, f ListFilter) (*RecordPage, error) {
	var page RecordPage
	if _, err := c.doJSON(ctx, creds, http.MethodGet, "/repair-records?"+f.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return &page, nil
}

// ListMyJobs GET /repair-records/my/jobs
func (c *Client) ListMyJobs(ctx context.Context, creds Credentials, f ListFilter) (*RecordPage, error) {
	var page RecordPage
	if _, err := c.doJSON(ctx, creds, http.MethodGet, "/repair-records/my/jobs?"+f.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("list my jobs: %w", err)
	}
	return &page, nil
}

// GetRecord GET /repair-records/:id
func (c *Client) GetRecord(ctx context.Context, creds Credentials, id int64) (*entity.RepairRecord, error) {
	var rec entity.RepairRecord
	if _, err := c.doJSON(ctx, creds, http.MethodGet, fmt.Sprintf("/repair-records/%d", id), nil, &rec); err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return &rec, nil
}

// UpdateRecord PATCH /repair-records/:id
// The returned record may be partial; callers merge it rather than replace.
func (c *Client) UpdateRecord(ctx context.Context, creds Credentials, id int64, patch RecordPatch) (*entity.RepairRecord, string, error) {
	var rec entity.RepairRecord
	msg, err := c.doJSON(ctx, creds, http.MethodPatch, fmt.Sprintf("/repair-records/%d", id), patch, &rec)
	if err != nil {
		return nil, "", fmt.Errorf("update record %d: %w", id, err)
	}
	if rec.ID == 0 {
		rec.ID = id
	}
	return &rec, msg, nil
}

// AcceptJob PUT /repair-records/:id/accept
func (c *Client) AcceptJob(ctx context.Context, creds Credentials, id int64) (string, error) {
	msg, err := c.doJSON(ctx, creds, http.MethodPut, fmt.Sprintf("/repair-records/%d/accept", id), nil, nil)
	if err != nil {
		return "", fmt.Errorf("accept job %d: %w", id, err)
	}
	return msg, nil
}

// Validate runs the required-field checks of the intake form.
func (in CreateRecordInput) Validate() error {
	var v validate.Errors
	v.Required("customerName", "Customer name", in.CustomerName)
	v.Required("customerNumber", "Customer number", in.CustomerNumber)
	if in.ExpectedRepairDate.IsZero() {
		v.Add("expectedRepairDate", "Expected repair date is required")
	}
	if in.DeviceTakenOn.IsZero() {
		v.Add("deviceTakenOn", "Device taken on is required")
	}
	v.Required("deviceIssue", "Device issue", in.DeviceIssue)
	for i, li := range in.RepairItems {
		if li.Quantity < 1 {
			v.Add(fmt.Sprintf("repairItems[%d].quantity", i), "Quantity must be at least 1")
		}
	}
	return v.Err()
}

// CreateRecord POST /repair-records (multipart/form-data)
func (c *Client) CreateRecord(ctx context.Context, creds Credentials, in CreateRecordInput, uploads []Upload) (*entity.RepairRecord, string, error) {
	if err := in.Validate(); err != nil {
		return nil, "", err
	}

	body, contentType, err := encodeIntakeForm(in, uploads)
	if err != nil {
		return nil, "", err
	}

	req, err := c.newRequest(ctx, creds, http.MethodPost, "/repair-records", body)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", contentType)

	var rec entity.RepairRecord
	msg, err := c.send(creds, req, &rec)
	if err != nil {
		return nil, "", fmt.Errorf("create record: %w", err)
	}
	c.logger.Info("repair record created",
		zap.Int64("record_id", rec.ID),
		zap.Int("uploads", len(uploads)),
	)
	return &rec, msg, nil
}

func encodeIntakeForm(in CreateRecordInput, uploads []Upload) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := [][2]string{
		{"customerName", in.CustomerName},
		{"customerNumber", in.CustomerNumber},
		{"expectedRepairDate", in.ExpectedRepairDate.Format(dateLayout)},
		{"deviceTakenOn", in.DeviceTakenOn.Format(dateLayout)},
		{"deviceIssue", in.DeviceIssue},
		{"deviceCompany", in.DeviceCompany},
		{"deviceModel", in.DeviceModel},
		{"deviceColor", in.DeviceColor},
		{"devicePassword", in.DevicePassword},
		{"description", in.Description},
	}
	if in.EstimatedCost != nil {
		fields = append(fields, [2]string{"estimatedCost", in.EstimatedCost.String()})
	}
	if in.AdvanceAmount != nil {
		fields = append(fields, [2]string{"advanceAmount", in.AdvanceAmount.String()})
	}
	if len(in.RepairItems) > 0 {
		items, err := json.Marshal(in.RepairItems)
		if err != nil {
			return nil, "", fmt.Errorf("encode repair items: %w", err)
		}
		fields = append(fields, [2]string{"repairItems", string(items)})
	}

	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	for _, up := range uploads {
		field := "images"
		if up.Kind == entity.MediaVideo {
			field = "videos"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, up.Filename))
		ct := up.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", up.Filename, err)
		}
		if _, err := part.Write(up.Body); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", up.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

// FetchFile GET /repair-records/:id/file/:fileId (binary)
func (c *Client) FetchFile(ctx context.Context, creds Credentials, recordID, fileID int64) (*File, error) {
	path := fmt.Sprintf("/repair-records/%d/file/%d", recordID, fileID)
	req, err := c.newRequest(ctx, creds, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "read " + path, Err: err}
	}
	if err := c.checkStatus(creds, resp.StatusCode, data); err != nil {
		return nil, fmt.Errorf("fetch file %d: %w", fileID, err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &File{ContentType: ct, Data: data}, nil
}
