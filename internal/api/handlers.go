// internal/api/handlers.go
package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/services"
)

// Handler serves the preview API.
type Handler struct {
	Preview  *services.PreviewService
	Hub      *Hub
	Response *ResponseHelper

	// root confines story paths requested over HTTP.
	root string
}

// StartSessionRequest is the body of POST /api/sessions.
type StartSessionRequest struct {
	Path string `json:"path" binding:"required"`
}

// ChooseRequest is the body of POST /api/sessions/:id/choose.
type ChooseRequest struct {
	Index *int `json:"index" binding:"required"`
}

// NewHandler creates a handler confined to root.
func NewHandler(preview *services.PreviewService, hub *Hub, root string) *Handler {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Handler{
		Preview:  preview,
		Hub:      hub,
		Response: NewResponseHelper(),
		root:     root,
	}
}

// resolvePath maps a request path onto the served directory and rejects
// anything that escapes it.
func (h *Handler) resolvePath(requested string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return "", apperrors.NewValidationError("path is required", nil)
	}
	candidate := requested
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(h.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(h.root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation, "path is outside the served directory", err)
	}
	return candidate, nil
}

// StartSession POST /api/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	path, err := h.resolvePath(req.Path)
	if err != nil {
		h.Response.Error(c, http.StatusForbidden, ErrorForbidden, err.Error())
		return
	}

	snap, err := h.Preview.Start(c.Request.Context(), path)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	view := newSessionView(snap)
	h.Hub.Publish(Event{Type: EventTurn, SessionID: snap.ID, Path: snap.Path, Data: view})
	h.Response.Created(c, view)
}

// ListSessions GET /api/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	snaps := h.Preview.List()
	views := make([]*SessionView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, newSessionView(snap))
	}
	h.Response.Success(c, views)
}

// GetSession GET /api/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.Preview.Get(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, newSessionView(snap))
}

// Choose POST /api/sessions/:id/choose
func (h *Handler) Choose(c *gin.Context) {
	var req ChooseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	id := c.Param("id")
	snap, err := h.Preview.Choose(c.Request.Context(), id, *req.Index)
	if err != nil && !apperrors.IsUnresolvedTargetError(err) {
		h.Response.AppError(c, err)
		return
	}

	view := newSessionView(snap)
	h.Hub.Publish(Event{Type: EventTurn, SessionID: id, Path: snap.Path, Data: view})
	if err != nil {
		// the session ended on a dangling target; the final step is still shown
		h.Response.Success(c, view, apperrors.UserMessage(err, false))
		return
	}
	h.Response.Success(c, view)
}

// CloseSession DELETE /api/sessions/:id
func (h *Handler) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.Preview.Close(id); err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Hub.Publish(Event{Type: EventClosed, SessionID: id})
	h.Response.Success(c, gin.H{"id": id}, "session closed")
}

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":   "ok",
		"sessions": len(h.Preview.List()),
		"clients":  h.Hub.ClientCount(),
	})
}
