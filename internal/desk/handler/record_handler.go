package handler

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/lineitem"
	"github.com/bitfantasy/repairdesk/internal/desk/records"
	"github.com/bitfantasy/repairdesk/internal/desk/service"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const maxUploadMemory = 32 << 20

type RecordHandler struct {
	ws *service.Workspaces
}

func NewRecordHandler(ws *service.Workspaces) *RecordHandler {
	return &RecordHandler{ws: ws}
}

func (h *RecordHandler) workspace(c *gin.Context) *service.Workspace {
	return h.ws.Get(c.Request.Context(), sessionOf(c))
}

// list resolves the ?list= query to one of the workspace's controllers.
func (h *RecordHandler) list(c *gin.Context) (*records.Controller, bool) {
	ctrl, err := h.workspace(c).List(records.Source(c.Query("list")))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return ctrl, true
}

// respondState answers with the controller snapshot, or the list error when
// the fetch failed.
func respondState(c *gin.Context, ctrl *records.Controller, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, ctrl.State())
}

// ===== 列表 =====

// State GET /desk/records
func (h *RecordHandler) State(c *gin.Context) {
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	Success(c, ctrl.State())
}

type SearchRequest struct {
	Term string `json:"term"`
}

// Search POST /desk/records/search
func (h *RecordHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	ctrl.SetSearchTerm(req.Term)
	Success(c, ctrl.State())
}

type FiltersRequest struct {
	Status entity.RepairStatus `json:"status"`
	Month  string              `json:"month"`
}

// Filters POST /desk/records/filters
func (h *RecordHandler) Filters(c *gin.Context) {
	var req FiltersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	respondState(c, ctrl, ctrl.SetFilters(c.Request.Context(), req.Status, req.Month))
}

type PageRequest struct {
	Page      int    `json:"page"`
	Direction string `json:"direction"`
}

// Page POST /desk/records/page
func (h *RecordHandler) Page(c *gin.Context) {
	var req PageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var err error
	switch req.Direction {
	case "next":
		err = ctrl.NextPage(ctx)
	case "prev":
		err = ctrl.PrevPage(ctx)
	case "":
		err = ctrl.SetPage(ctx, req.Page)
	default:
		BadRequest(c, "direction must be next or prev")
		return
	}
	respondState(c, ctrl, err)
}

// Refresh POST /desk/records/refresh
func (h *RecordHandler) Refresh(c *gin.Context) {
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	respondState(c, ctrl, ctrl.Refresh(c.Request.Context()))
}

// Notifications GET /desk/notifications
func (h *RecordHandler) Notifications(c *gin.Context) {
	Success(c, gin.H{"items": h.workspace(c).Notifications()})
}

// ===== 查看 =====

// OpenView POST /desk/records/:id/view
func (h *RecordHandler) OpenView(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	rec, err := ctrl.OpenView(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, rec)
}

// CloseView DELETE /desk/records/view
func (h *RecordHandler) CloseView(c *gin.Context) {
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	ctrl.CloseView()
	h.workspace(c).CloseMedia()
	Success(c, ctrl.State())
}

// ===== 编辑（管理员）=====

// OpenEdit POST /desk/records/:id/edit
func (h *RecordHandler) OpenEdit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	st, err := h.workspace(c).OpenEdit(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, st)
}

type DraftRequest struct {
	Status             *entity.RepairStatus `json:"status"`
	AssignedToID       *int64               `json:"assignedToId"`
	ExpectedRepairDate *string              `json:"expectedRepairDate"`
	FinalCost          *decimal.Decimal     `json:"finalCost"`
}

// UpdateDraft PATCH /desk/edit
func (h *RecordHandler) UpdateDraft(c *gin.Context) {
	var req DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	patch := records.DraftPatch{
		Status:       req.Status,
		AssignedToID: req.AssignedToID,
		FinalCost:    req.FinalCost,
	}
	if req.ExpectedRepairDate != nil {
		d, err := parseDate(*req.ExpectedRepairDate)
		if err != nil {
			respondError(c, fieldError("expectedRepairDate", "Date must be YYYY-MM-DD"))
			return
		}
		patch.ExpectedRepairDate = &d
	}
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	if _, err := h.workspace(c).Editor(); err != nil {
		respondError(c, err)
		return
	}
	draft, err := ctrl.UpdateDraft(patch)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, draft)
}

func (h *RecordHandler) editor(c *gin.Context) (*lineitem.Editor, bool) {
	ed, err := h.workspace(c).Editor()
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return ed, true
}

func parseIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		BadRequest(c, "invalid index")
		return 0, false
	}
	return idx, true
}

func respondDrafts(c *gin.Context, ed *lineitem.Editor) {
	Success(c, gin.H{"items": ed.Drafts(), "total": ed.Total()})
}

// AddItem POST /desk/edit/items
func (h *RecordHandler) AddItem(c *gin.Context) {
	ed, ok := h.editor(c)
	if !ok {
		return
	}
	ed.Add()
	respondDrafts(c, ed)
}

type ItemFieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// UpdateItem PATCH /desk/edit/items/:index
func (h *RecordHandler) UpdateItem(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	var req ItemFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	ed, ok := h.editor(c)
	if !ok {
		return
	}
	// every Update failure is a bad value or index
	if err := ed.Update(idx, lineitem.Field(req.Field), req.Value); err != nil {
		BadRequest(c, err.Error())
		return
	}
	respondDrafts(c, ed)
}

// RemoveItem DELETE /desk/edit/items/:index
func (h *RecordHandler) RemoveItem(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	ed, ok := h.editor(c)
	if !ok {
		return
	}
	if err := ed.Remove(idx); err != nil {
		respondError(c, err)
		return
	}
	respondDrafts(c, ed)
}

// CreateCatalogItem POST /desk/edit/catalog
func (h *RecordHandler) CreateCatalogItem(c *gin.Context) {
	var in backend.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	ed, ok := h.editor(c)
	if !ok {
		return
	}
	item, err := ed.CreateCatalogItem(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, item)
}

// SubmitEdit POST /desk/edit/submit
func (h *RecordHandler) SubmitEdit(c *gin.Context) {
	rec, err := h.workspace(c).SubmitEdit(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, rec)
}

// CancelEdit DELETE /desk/edit
func (h *RecordHandler) CancelEdit(c *gin.Context) {
	ctrl, ok := h.list(c)
	if !ok {
		return
	}
	if _, err := h.workspace(c).Editor(); err != nil {
		respondError(c, err)
		return
	}
	ctrl.CancelEdit()
	Success(c, ctrl.State())
}

// ===== 新建（管理员）=====

// Create POST /desk/records (multipart)
func (h *RecordHandler) Create(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		BadRequest(c, "Invalid multipart form: "+err.Error())
		return
	}
	in, err := intakeInput(c)
	if err != nil {
		respondError(c, err)
		return
	}
	uploads, err := intakeUploads(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	rec, err := h.workspace(c).CreateRecord(c.Request.Context(), in, uploads)
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, rec)
}

func intakeInput(c *gin.Context) (backend.CreateRecordInput, error) {
	var v validate.Errors
	in := backend.CreateRecordInput{
		CustomerName:   c.PostForm("customerName"),
		CustomerNumber: c.PostForm("customerNumber"),
		DeviceIssue:    c.PostForm("deviceIssue"),
		DeviceCompany:  c.PostForm("deviceCompany"),
		DeviceModel:    c.PostForm("deviceModel"),
		DeviceColor:    c.PostForm("deviceColor"),
		DevicePassword: c.PostForm("devicePassword"),
		Description:    c.PostForm("description"),
	}
	for field, dst := range map[string]*time.Time{
		"expectedRepairDate": &in.ExpectedRepairDate,
		"deviceTakenOn":      &in.DeviceTakenOn,
	} {
		if raw := c.PostForm(field); raw != "" {
			d, err := parseDate(raw)
			if err != nil {
				v.Add(field, "Date must be YYYY-MM-DD")
				continue
			}
			*dst = d
		}
	}
	for field, dst := range map[string]**decimal.Decimal{
		"estimatedCost": &in.EstimatedCost,
		"advanceAmount": &in.AdvanceAmount,
	} {
		if raw := strings.TrimSpace(c.PostForm(field)); raw != "" {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				v.Add(field, "Must be a number")
				continue
			}
			*dst = &d
		}
	}
	if raw := c.PostForm("repairItems"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.RepairItems); err != nil {
			v.Add("repairItems", "Repair items must be a JSON array")
		}
	}
	return in, v.Err()
}

func intakeUploads(c *gin.Context) ([]backend.Upload, error) {
	form := c.Request.MultipartForm
	var uploads []backend.Upload
	for _, kind := range []entity.MediaKind{entity.MediaImage, entity.MediaVideo} {
		for _, fh := range form.File[string(kind)+"s"] {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			body, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			uploads = append(uploads, backend.Upload{
				Kind:        kind,
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Body:        body,
			})
		}
	}
	return uploads, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, s)
}

func fieldError(field, message string) error {
	var v validate.Errors
	v.Add(field, message)
	return v.Err()
}
