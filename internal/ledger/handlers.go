package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/raffle/internal/ethunit"
	"github.com/mbd888/raffle/internal/validation"
)

// Handler provides HTTP endpoints for ledger operations
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ledger/:address", h.GetBalance)
	r.GET("/ledger/:address/history", h.GetHistory)
}

// RegisterProtectedRoutes sets up routes that move funds.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/ledger/:address/withdraw", h.Withdraw)
}

func addressParam(c *gin.Context) (common.Address, bool) {
	address := c.Param("address")
	if !validation.IsValidEthAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(address), true
}

// GetBalance handles GET /v1/ledger/:address
func (h *Handler) GetBalance(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), addr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	available, _ := ethunit.ParseWeiOrEther(balance.Available)
	c.JSON(http.StatusOK, gin.H{
		"balance":      balance,
		"availableEth": ethunit.FormatEther(available),
	})
}

// GetHistory handles GET /v1/ledger/:address/history
func (h *Handler) GetHistory(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), addr, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// WithdrawRequest is the body of POST /v1/ledger/:address/withdraw.
// Amount accepts wei or an ether amount ("0.04").
type WithdrawRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Withdraw handles POST /v1/ledger/:address/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}

	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	amount, err := ethunit.ParseWeiOrEther(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive wei or ether amount",
		})
		return
	}

	entry, err := h.ledger.Withdraw(c.Request.Context(), addr, amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoExecutor):
			c.JSON(http.StatusNotImplemented, gin.H{"error": "withdrawals_disabled", "message": err.Error()})
		case errors.Is(err, ErrInsufficientBalance):
			c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient_balance", "message": "Insufficient balance for withdrawal"})
		case errors.Is(err, ErrTransferFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": "transfer_failed", "message": "Failed to execute withdrawal"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "completed",
		"withdrawal": entry,
		"txHash":     entry.TxHash,
	})
}
