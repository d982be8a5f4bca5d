package handler

import (
	"net/http"
	"strconv"

	"github.com/bitfantasy/repairdesk/internal/desk/service"
	"github.com/gin-gonic/gin"
)

// MediaHandler 记录图片/视频
type MediaHandler struct {
	ws *service.Workspaces
}

func NewMediaHandler(ws *service.Workspaces) *MediaHandler {
	return &MediaHandler{ws: ws}
}

// Open POST /desk/records/:id/media
func (h *MediaHandler) Open(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	w := h.ws.Get(c.Request.Context(), sessionOf(c))
	handles, err := w.OpenMedia(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"items": handles})
}

// Close DELETE /desk/media
func (h *MediaHandler) Close(c *gin.Context) {
	h.ws.Get(c.Request.Context(), sessionOf(c)).CloseMedia()
	Success(c, nil)
}

// Serve GET /media/:handle
func (h *MediaHandler) Serve(c *gin.Context) {
	w := h.ws.Get(c.Request.Context(), sessionOf(c))
	handle, data, err := w.MediaFile(c.Param("handle"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, handle.ContentType, data)
}
