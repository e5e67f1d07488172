package handler

import (
	"chatgogo/messenger/internal/chathub"
	"chatgogo/messenger/internal/events"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/roomid"
	"chatgogo/messenger/internal/storage"
	"chatgogo/messenger/internal/thread"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultMaxUploadSize matches the client-side attachment limit.
	DefaultMaxUploadSize = 25 << 20
	filesRoute           = "/files"
)

// Handler містить посилання на ChatHub та сховище
type Handler struct {
	Hub     *chathub.ManagerService
	Storage storage.Storage
	Auth    *Authenticator
	Policy  thread.Policy
	Events  events.Publisher

	// FilesDir is where uploaded attachments are written; they are served
	// under /files.
	FilesDir      string
	MaxUploadSize int64
	Clock         func() time.Time
}

func NewHandler(hub *chathub.ManagerService, s storage.Storage, auth *Authenticator, filesDir string) *Handler {
	return &Handler{
		Hub:           hub,
		Storage:       s,
		Auth:          auth,
		Events:        events.Nop{},
		FilesDir:      filesDir,
		MaxUploadSize: DefaultMaxUploadSize,
		Clock:         time.Now,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.FilesDir != "" {
		r.Static(filesRoute, h.FilesDir)
	}

	r.GET("/ws", h.Auth.RequireAuth(), h.ServeWebSocket)

	api := r.Group("/api", h.Auth.RequireAuth())
	api.GET("/rooms/:key/messages", h.GetRoomHistory)
	api.GET("/threads/:id/messages", h.GetThreadHistory)
	api.POST("/messages", h.CreateMessage)
	api.PATCH("/messages/:id", h.EditMessage)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.POST("/messages/:id/mark-best", h.MarkBestReply)
	api.POST("/messages/:id/unmark-best", h.UnmarkBestReply)

	api.GET("/participants/:id", h.GetParticipant)
	api.PUT("/participants/me", h.SaveProfile)
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// emit publishes a lifecycle event. Failures are logged, the request
// has already succeeded.
func (h *Handler) emit(c *gin.Context, eventType string, msg models.Message) {
	if h.Events == nil {
		return
	}
	env := events.NewEnvelope(eventType, currentParticipant(c).ID, msg, h.now())
	if err := h.Events.Publish(c.Request.Context(), env); err != nil {
		log.Printf("WARNING: Failed to publish %s for message %d: %v", eventType, msg.ID, err)
	}
}

// respondError maps domain errors to HTTP statuses with a {"error": ...} body.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, thread.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, thread.ErrBestReplyConflict), errors.Is(err, thread.ErrRootHasReplies):
		status = http.StatusConflict
	case errors.Is(err, thread.ErrNotAuthor), errors.Is(err, thread.ErrRootLocked),
		errors.Is(err, thread.ErrDeleteForbidden), errors.Is(err, errNotMember):
		status = http.StatusForbidden
	case errors.Is(err, thread.ErrRootNotReply), errors.Is(err, thread.ErrNotBestReply),
		errors.Is(err, roomid.ErrInvalidParticipant), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, errTooLarge):
		status = http.StatusRequestEntityTooLarge
	}
	if status == http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
