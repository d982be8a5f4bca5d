package handler

import (
	"strconv"

	"github.com/bitfantasy/repairdesk/internal/desk/service"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	ws      *service.Workspaces
	catalog *service.CatalogService
}

func NewAdminHandler(ws *service.Workspaces, catalog *service.CatalogService) *AdminHandler {
	return &AdminHandler{ws: ws, catalog: catalog}
}

// Stats GET /admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.catalog.Stats(c.Request.Context(), sessionOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, stats)
}

// ExportRecords GET /admin/records/export
func (h *AdminHandler) ExportRecords(c *gin.Context) {
	w := h.ws.Get(c.Request.Context(), sessionOf(c))
	f, filename, err := w.Export(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}

// Activity GET /admin/activity?recordId=
func (h *AdminHandler) Activity(c *gin.Context) {
	recordID, err := strconv.ParseInt(c.Query("recordId"), 10, 64)
	if err != nil || recordID <= 0 {
		BadRequest(c, "recordId is required")
		return
	}
	page, pageSize := GetPagination(c)
	items, total, err := h.ws.Activity(c.Request.Context(), recordID, page, pageSize)
	if err != nil {
		InternalError(c, "获取操作日志失败: "+err.Error())
		return
	}
	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: (int(total) + pageSize - 1) / pageSize,
		},
	})
}
