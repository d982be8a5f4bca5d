package handler

import (
	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/records"
	"github.com/bitfantasy/repairdesk/internal/desk/service"
	"github.com/gin-gonic/gin"
)

// JobHandler 维修工接单
type JobHandler struct {
	ws *service.Workspaces
}

func NewJobHandler(ws *service.Workspaces) *JobHandler {
	return &JobHandler{ws: ws}
}

func (h *JobHandler) respondList(c *gin.Context, src records.Source) {
	w := h.ws.Get(c.Request.Context(), sessionOf(c))
	ctrl, err := w.List(src)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{
		"list":   ctrl.State(),
		"banner": w.Banner(),
	})
}

// Available GET /desk/jobs/available
func (h *JobHandler) Available(c *gin.Context) {
	h.respondList(c, records.SourcePending)
}

// Mine GET /desk/jobs/mine
func (h *JobHandler) Mine(c *gin.Context) {
	h.respondList(c, records.SourceMine)
}

// Accept POST /desk/jobs/:id/accept
func (h *JobHandler) Accept(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	w := h.ws.Get(c.Request.Context(), sessionOf(c))
	msg, err := w.Accept(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	SuccessMessage(c, msg, gin.H{"id": id})
}

type StatusRequest struct {
	Status entity.RepairStatus `json:"status" binding:"required"`
}

// UpdateStatus POST /desk/jobs/:id/status
func (h *JobHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	w := h.ws.Get(c.Request.Context(), sessionOf(c))
	rec, err := w.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, rec)
}
