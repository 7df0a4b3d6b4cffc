package webhooks

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/raffle/internal/raffle"
	"github.com/mbd888/raffle/internal/validation"
)

// Handler exposes subscription management. All routes are admin-only.
type Handler struct {
	store      Store
	dispatcher *Dispatcher
}

func NewHandler(store Store, dispatcher *Dispatcher) *Handler {
	return &Handler{store: store, dispatcher: dispatcher}
}

// RegisterProtectedRoutes mounts the management routes on an authenticated group.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks", h.ListWebhooks)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
}

const (
	maxURLLength    = 2048
	maxSecretLength = 256
)

// CreateWebhookRequest registers an endpoint. Events defaults to all raffle
// events; Secret is generated when empty.
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// CreateWebhook handles POST /webhooks.
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "url is required"})
		return
	}
	if errs := validation.Validate(
		validation.MaxLength("url", req.URL, maxURLLength),
		validation.MaxLength("secret", req.Secret, maxSecretLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	events := make([]raffle.EventType, len(req.Events))
	for i, e := range req.Events {
		events[i] = raffle.EventType(e)
	}

	sub, err := h.dispatcher.Subscribe(c.Request.Context(), req.URL, req.Secret, events)
	if err != nil {
		if errors.Is(err, ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  sub.Secret,
		"usage": gin.H{
			"header":    HeaderSignature,
			"signature": "hex(HMAC-SHA256(body, secret))",
		},
	})
}

// ListWebhooks handles GET /webhooks. Secrets are never returned.
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// DeleteWebhook handles DELETE /webhooks/:id.
func (h *Handler) DeleteWebhook(c *gin.Context) {
	err := h.store.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Webhook not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to delete webhook"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}
