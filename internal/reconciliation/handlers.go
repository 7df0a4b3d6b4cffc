package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes reconciliation to operators.
type Handler struct {
	timer *Timer
}

// NewHandler creates a new reconciliation handler.
func NewHandler(timer *Timer) *Handler {
	return &Handler{timer: timer}
}

// RegisterProtectedRoutes sets up operator-only routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/reconciliation", h.GetLast)
	r.POST("/reconciliation", h.Run)
}

// GetLast handles GET /v1/reconciliation
func (h *Handler) GetLast(c *gin.Context) {
	last := h.timer.Last()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_run",
			"message": "Reconciliation has not run yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciliation": last})
}

// Run handles POST /v1/reconciliation
func (h *Handler) Run(c *gin.Context) {
	res, err := h.timer.RunNow(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciliation": res})
}
