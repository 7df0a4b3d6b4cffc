package vrf

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/raffle/internal/ethunit"
	"github.com/mbd888/raffle/internal/validation"
)

// Handler exposes the mock coordinator over HTTP.
type Handler struct {
	coordinator *MockCoordinator
}

// NewHandler creates a new coordinator handler.
func NewHandler(coordinator *MockCoordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterRoutes sets up read-only coordinator routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/vrf/subscriptions/:id", h.GetSubscription)
	r.GET("/vrf/requests", h.ListRequests)
	r.GET("/vrf/fulfillments", h.ListFulfillments)
}

// RegisterProtectedRoutes sets up operator-only coordinator routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/vrf/subscriptions/:id/fund", h.FundSubscription)
	r.POST("/vrf/requests/:id/fulfill", h.FulfillRequest)
}

// GetSubscription handles GET /v1/vrf/subscriptions/:id
func (h *Handler) GetSubscription(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Subscription id must be an unsigned integer",
		})
		return
	}

	sub, err := h.coordinator.GetSubscription(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrInvalidSubscription) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Subscription not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription": sub,
		"balanceLink":  ethunit.FormatEther(sub.Balance),
	})
}

// FundSubscriptionRequest is the body of POST /v1/vrf/subscriptions/:id/fund.
// Amount accepts integer juels or a decimal LINK amount ("1.5").
type FundSubscriptionRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// FundSubscription handles POST /v1/vrf/subscriptions/:id/fund
func (h *Handler) FundSubscription(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Subscription id must be an unsigned integer",
		})
		return
	}
	var req FundSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	amount, err := ethunit.ParseWeiOrEther(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	if err := h.coordinator.FundSubscription(c.Request.Context(), id, amount); err != nil {
		switch {
		case errors.Is(err, ErrInvalidSubscription):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Subscription not found"})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	sub, _ := h.coordinator.GetSubscription(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// ListRequests handles GET /v1/vrf/requests
func (h *Handler) ListRequests(c *gin.Context) {
	reqs := h.coordinator.PendingRequests(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"requests": reqs, "count": len(reqs)})
}

// ListFulfillments handles GET /v1/vrf/fulfillments
func (h *Handler) ListFulfillments(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxFulfillmentHistory {
				limit = maxFulfillmentHistory
			}
		}
	}
	out := h.coordinator.Fulfillments(c.Request.Context(), limit)
	c.JSON(http.StatusOK, gin.H{"fulfillments": out, "count": len(out)})
}

// FulfillBody is the optional body of POST /v1/vrf/requests/:id/fulfill.
// Words are decimal strings; when omitted they are derived from the request id.
type FulfillBody struct {
	Words []string `json:"words"`
}

// FulfillRequest handles POST /v1/vrf/requests/:id/fulfill
func (h *Handler) FulfillRequest(c *gin.Context) {
	requestID, ok := new(big.Int).SetString(c.Param("id"), 10)
	if !ok || requestID.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request id must be a positive integer",
		})
		return
	}

	var body FulfillBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	var words []*big.Int
	for _, w := range body.Words {
		if errs := validation.Validate(validation.Required("words", w), validation.ValidUint("words", w)); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "Random words must be non-negative integers",
				"details": errs,
			})
			return
		}
		v, _ := new(big.Int).SetString(w, 10)
		words = append(words, v)
	}

	pending, err := h.coordinator.PendingRequest(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "nonexistent_request",
			"message": err.Error(),
		})
		return
	}

	err = h.coordinator.FulfillRandomWordsWithOverride(c.Request.Context(), requestID, pending.Request.Consumer, words)
	if err != nil {
		h.writeFulfillError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requestId": requestID.String(),
		"consumer":  pending.Request.Consumer.Hex(),
		"fulfilled": true,
	})
}

func (h *Handler) writeFulfillError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNonexistentRequest):
		c.JSON(http.StatusNotFound, gin.H{"error": "nonexistent_request", "message": err.Error()})
	case errors.Is(err, ErrInvalidRandomWords):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_random_words", "message": err.Error()})
	case errors.Is(err, ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance", "message": err.Error()})
	case errors.Is(err, ErrCallbackFailed):
		c.JSON(http.StatusConflict, gin.H{"error": "callback_failed", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
