package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/possync/internal/outbox/application"
)

// SyncHandler expone el estado del outbox a los colaboradores de UI:
// los dos contadores de badge y la acción manual de reintento.
type SyncHandler struct {
	service *application.OutboxService
}

// NewSyncHandler crea un nuevo SyncHandler
func NewSyncHandler(service *application.OutboxService) *SyncHandler {
	return &SyncHandler{service: service}
}

// ---------------- Handlers ----------------

// Status endpoint GET /sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	counts, err := h.service.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, counts)
}

// Retry endpoint POST /sync/retry
func (h *SyncHandler) Retry(c *gin.Context) {
	if err := h.service.RetryFailed(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "retry scheduled"})
}
