package ledger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/pagination"
	"github.com/mx-space/portal/internal/pkg/response"
)

// Handler exposes pending uploads to administrators.
type Handler struct {
	svc     *Service
	remover tracker.Remover
	live    SessionLookup
	maxAge  time.Duration
	logger  *zap.Logger
}

func NewHandler(svc *Service, remover tracker.Remover, live SessionLookup, maxAge time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, remover: remover, live: live, maxAge: maxAge, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, mws ...gin.HandlerFunc) {
	g := rg.Group("/uploads/orphans", mws...)
	g.GET("", h.list)
	g.GET("/count", h.count)
	g.POST("/cleanup", h.cleanup)
}

type orphanResponse struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	Created   time.Time `json:"created"`
}

// GET /uploads/orphans?page=&size=
func (h *Handler) list(c *gin.Context) {
	refs, pag, err := h.svc.Pending(c.Request.Context(), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]orphanResponse, len(refs))
	for i, r := range refs {
		out[i] = orphanResponse{ID: r.ID, SessionID: r.SessionID, URL: r.URL, Kind: r.Kind, Created: r.CreatedAt}
	}
	response.Paged(c, out, pag)
}

// GET /uploads/orphans/count
func (h *Handler) count(c *gin.Context) {
	n, err := h.svc.CountPending(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"pending": n})
}

// POST /uploads/orphans/cleanup runs the stale sweep now.
func (h *Handler) cleanup(c *gin.Context) {
	n, err := h.svc.SweepStale(c.Request.Context(), h.maxAge, h.live, h.remover, h.logger)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"removed": n})
}
