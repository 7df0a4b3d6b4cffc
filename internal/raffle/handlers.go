package raffle

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/raffle/internal/ethunit"
	"github.com/mbd888/raffle/internal/pagination"
	"github.com/mbd888/raffle/internal/validation"
)

// Handler provides HTTP endpoints for the raffle engine.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new raffle handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up public raffle routes. Entering is public; the
// entrance fee is the only gate.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/raffle", h.GetRaffle)
	r.POST("/raffle/enter", h.Enter)
	r.GET("/raffle/players", h.ListPlayers)
	r.GET("/raffle/players/:index", h.GetPlayer)
	r.GET("/raffle/upkeep", h.CheckUpkeep)
	r.GET("/raffle/draws", h.ListDraws)
}

// RegisterProtectedRoutes sets up operator-only routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/raffle/upkeep", h.PerformUpkeep)
}

// StatusResponse is the body of GET /v1/raffle.
type StatusResponse struct {
	Address          string      `json:"address"`
	EntranceFee      string      `json:"entranceFee"`
	EntranceFeeEth   string      `json:"entranceFeeEth"`
	IntervalSeconds  int64       `json:"intervalSeconds"`
	State            State       `json:"state"`
	Round            uint64      `json:"round"`
	NumPlayers       int         `json:"numPlayers"`
	Balance          string      `json:"balance"`
	BalanceEth       string      `json:"balanceEth"`
	LatestTimestamp  int64       `json:"latestTimestamp"`
	RecentWinner     string      `json:"recentWinner,omitempty"`
	PendingRequestID string      `json:"pendingRequestId,omitempty"`
	Eligibility      Eligibility `json:"eligibility"`
	UpkeepNeeded     bool        `json:"upkeepNeeded"`
}

// Status builds the status view of the engine.
func Status(e *Engine) StatusResponse {
	snap := e.Snapshot()
	el := e.Eligibility()
	resp := StatusResponse{
		Address:         e.Address().Hex(),
		EntranceFee:     e.EntranceFee().String(),
		EntranceFeeEth:  ethunit.FormatEther(e.EntranceFee()),
		IntervalSeconds: int64(e.Interval().Seconds()),
		State:           snap.State,
		Round:           snap.Round,
		NumPlayers:      len(snap.Players),
		Balance:         snap.Balance.String(),
		BalanceEth:      ethunit.FormatEther(snap.Balance),
		LatestTimestamp: snap.LastTimestamp.Unix(),
		Eligibility:     el,
		UpkeepNeeded:    el.Needed(),
	}
	if snap.RecentWinner != nil {
		resp.RecentWinner = snap.RecentWinner.Hex()
	}
	if id := snap.PendingRequestID(); id != nil {
		resp.PendingRequestID = id.String()
	}
	return resp
}

// GetRaffle handles GET /v1/raffle
func (h *Handler) GetRaffle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"raffle": Status(h.engine)})
}

// ListPlayers handles GET /v1/raffle/players
func (h *Handler) ListPlayers(c *gin.Context) {
	snap := h.engine.Snapshot()
	players := make([]string, len(snap.Players))
	for i, p := range snap.Players {
		players[i] = p.Hex()
	}
	c.JSON(http.StatusOK, gin.H{"players": players, "count": len(players), "round": snap.Round})
}

// GetPlayer handles GET /v1/raffle/players/:index
func (h *Handler) GetPlayer(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Index must be an integer",
		})
		return
	}

	player, err := h.engine.Player(index)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "index_out_of_range",
			"message": "No player at that index",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"index": index, "player": player.Hex()})
}

// CheckUpkeep handles GET /v1/raffle/upkeep
func (h *Handler) CheckUpkeep(c *gin.Context) {
	needed, performData, err := h.engine.CheckUpkeep(c.Request.Context(), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"upkeepNeeded": needed,
		"performData":  "0x" + common.Bytes2Hex(performData),
		"eligibility":  h.engine.Eligibility(),
	})
}

// ListDraws handles GET /v1/raffle/draws
func (h *Handler) ListDraws(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	draws, err := h.engine.Draws(c.Request.Context(), pagination.BeforeOf(cursor), limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list draws",
		})
		return
	}
	draws, next, hasMore := pagination.ComputePage(draws, limit, func(d Draw) uint64 { return d.Round })
	if draws == nil {
		draws = []Draw{}
	}

	resp := gin.H{"draws": draws, "count": len(draws), "hasMore": hasMore}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// EnterRequest is the body of POST /v1/raffle/enter. Amount defaults to the
// entrance fee and accepts wei or ether ("0.01", "0.01eth").
type EnterRequest struct {
	Player string `json:"player" binding:"required"`
	Amount string `json:"amount"`
}

// Enter handles POST /v1/raffle/enter
func (h *Handler) Enter(c *gin.Context) {
	var req EnterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("player", req.Player),
		validation.ValidAddress("player", req.Player),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	payment := h.engine.EntranceFee()
	if req.Amount != "" {
		var err error
		if payment, err = ethunit.ParseWeiOrEther(req.Amount); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
	}

	player := common.HexToAddress(req.Player)
	if err := h.engine.Enter(c.Request.Context(), player, payment); err != nil {
		switch {
		case errors.Is(err, ErrInsufficientPayment):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":       "insufficient_payment",
				"message":     "Payment is below the entrance fee",
				"entranceFee": h.engine.EntranceFee().String(),
			})
		case errors.Is(err, ErrNotOpen):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_open",
				"message": "Raffle is calculating a winner",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "enter_failed",
				"message": "Failed to enter raffle",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"player":     player.Hex(),
		"payment":    payment.String(),
		"numPlayers": h.engine.NumPlayers(),
	})
}

// PerformUpkeep handles POST /v1/raffle/upkeep
func (h *Handler) PerformUpkeep(c *gin.Context) {
	requestID, err := h.engine.PerformUpkeep(c.Request.Context(), nil)
	if err != nil {
		var notNeeded *UpkeepNotNeededError
		switch {
		case errors.As(err, &notNeeded):
			c.JSON(http.StatusConflict, gin.H{
				"error":      "upkeep_not_needed",
				"message":    err.Error(),
				"balance":    notNeeded.Balance.String(),
				"numPlayers": notNeeded.NumPlayers,
				"state":      notNeeded.State,
			})
		case errors.Is(err, ErrRandomnessRequest):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "randomness_request_failed",
				"message": err.Error(),
			})
		case requestID != nil:
			// Requested but not persisted; report the id so operators can reconcile.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "persist_failed",
				"message":   err.Error(),
				"requestId": requestID.String(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"requestId": requestID.String(),
		"state":     h.engine.State(),
	})
}
