package handler

import (
	"github.com/bitfantasy/repairdesk/internal/desk/service"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/gin-gonic/gin"
)

// CatalogHandler 物料 / 标签 / 维修工
type CatalogHandler struct {
	svc *service.CatalogService
}

func NewCatalogHandler(svc *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

// ============================================================
// 物料
// ============================================================

// ListItems GET /items
func (h *CatalogHandler) ListItems(c *gin.Context) {
	items, err := h.svc.ListItems(c.Request.Context(), sessionOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// CreateItem POST /items
func (h *CatalogHandler) CreateItem(c *gin.Context) {
	var in backend.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	item, err := h.svc.CreateItem(c.Request.Context(), sessionOf(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, item)
}

// UpdateItem PUT /items/:id
func (h *CatalogHandler) UpdateItem(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in backend.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	item, err := h.svc.UpdateItem(c.Request.Context(), sessionOf(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, item)
}

// DeleteItem DELETE /items/:id
func (h *CatalogHandler) DeleteItem(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteItem(c.Request.Context(), sessionOf(c), id); err != nil {
		respondError(c, err)
		return
	}
	Success(c, nil)
}

// ============================================================
// 标签
// ============================================================

// ListProducts GET /products
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	products, err := h.svc.ListProducts(c.Request.Context(), sessionOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"items": products})
}

// CreateProduct POST /products
func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	var in backend.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	p, err := h.svc.CreateProduct(c.Request.Context(), sessionOf(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, p)
}

// UpdateProduct PUT /products/:id
func (h *CatalogHandler) UpdateProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in backend.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	p, err := h.svc.UpdateProduct(c.Request.Context(), sessionOf(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, p)
}

// DeleteProduct DELETE /products/:id
func (h *CatalogHandler) DeleteProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteProduct(c.Request.Context(), sessionOf(c), id); err != nil {
		respondError(c, err)
		return
	}
	Success(c, nil)
}

// ============================================================
// 维修工
// ============================================================

// ListWorkers GET /workers?q=
func (h *CatalogHandler) ListWorkers(c *gin.Context) {
	workers, err := h.svc.ListWorkers(c.Request.Context(), sessionOf(c), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"items": workers})
}

// CreateWorker POST /workers
func (h *CatalogHandler) CreateWorker(c *gin.Context) {
	var in backend.WorkerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	w, msg, err := h.svc.CreateWorker(c.Request.Context(), sessionOf(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	SuccessMessage(c, msg, w)
}

// UpdateWorker PUT /workers/:id
func (h *CatalogHandler) UpdateWorker(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in backend.WorkerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	w, msg, err := h.svc.UpdateWorker(c.Request.Context(), sessionOf(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	SuccessMessage(c, msg, w)
}

// DeleteWorker DELETE /workers/:id
func (h *CatalogHandler) DeleteWorker(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteWorker(c.Request.Context(), sessionOf(c), id); err != nil {
		respondError(c, err)
		return
	}
	Success(c, nil)
}
