package chain

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/raffle/internal/ethunit"
	"github.com/mbd888/raffle/internal/raffle"
)

// Status reads the contract views into the same shape the in-process engine
// reports, so API clients need not care which one they talk to.
func (r *Raffle) Status(ctx context.Context) (raffle.StatusResponse, error) {
	var resp raffle.StatusResponse
	fee, err := r.EntranceFee(ctx)
	if err != nil {
		return resp, err
	}
	interval, err := r.Interval(ctx)
	if err != nil {
		return resp, err
	}
	state, err := r.State(ctx)
	if err != nil {
		return resp, err
	}
	players, err := r.NumPlayers(ctx)
	if err != nil {
		return resp, err
	}
	balance, err := r.Balance(ctx)
	if err != nil {
		return resp, err
	}
	last, err := r.LatestTimestamp(ctx)
	if err != nil {
		return resp, err
	}
	winner, err := r.RecentWinner(ctx)
	if err != nil {
		return resp, err
	}
	needed, _, err := r.CheckUpkeep(ctx, nil)
	if err != nil {
		return resp, err
	}

	resp = raffle.StatusResponse{
		Address:         r.address.Hex(),
		EntranceFee:     fee.String(),
		EntranceFeeEth:  ethunit.FormatEther(fee),
		IntervalSeconds: int64(interval.Seconds()),
		State:           state,
		NumPlayers:      players,
		Balance:         balance.String(),
		BalanceEth:      ethunit.FormatEther(balance),
		LatestTimestamp: last.Unix(),
		UpkeepNeeded:    needed,
	}
	if winner != (common.Address{}) {
		resp.RecentWinner = winner.Hex()
	}
	return resp, nil
}

// Handler serves the raffle API from a deployed contract.
type Handler struct {
	raffle *Raffle
	upkeep *UpkeepTarget // nil when read-only
}

// NewHandler creates a handler. upkeep may be nil, in which case
// POST /raffle/upkeep answers 503.
func NewHandler(r *Raffle, upkeep *UpkeepTarget) *Handler {
	return &Handler{raffle: r, upkeep: upkeep}
}

// RegisterRoutes sets up read-only contract routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/raffle", h.GetRaffle)
	r.GET("/raffle/players/:index", h.GetPlayer)
	r.GET("/raffle/upkeep", h.CheckUpkeep)
}

// RegisterProtectedRoutes sets up operator-only routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/raffle/upkeep", h.PerformUpkeep)
}

func rpcFailure(c *gin.Context, err error) {
	c.JSON(http.StatusBadGateway, gin.H{
		"error":   "rpc_error",
		"message": err.Error(),
	})
}

// GetRaffle handles GET /v1/raffle
func (h *Handler) GetRaffle(c *gin.Context) {
	status, err := h.raffle.Status(c.Request.Context())
	if err != nil {
		rpcFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raffle": status})
}

// GetPlayer handles GET /v1/raffle/players/:index
func (h *Handler) GetPlayer(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Index must be a non-negative integer",
		})
		return
	}

	ctx := c.Request.Context()
	n, err := h.raffle.NumPlayers(ctx)
	if err != nil {
		rpcFailure(c, err)
		return
	}
	if index >= n {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "index_out_of_range",
			"message": "No player at that index",
		})
		return
	}

	player, err := h.raffle.Player(ctx, index)
	if err != nil {
		rpcFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index, "player": player.Hex()})
}

// CheckUpkeep handles GET /v1/raffle/upkeep
func (h *Handler) CheckUpkeep(c *gin.Context) {
	needed, performData, err := h.raffle.CheckUpkeep(c.Request.Context(), nil)
	if err != nil {
		rpcFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"upkeepNeeded": needed,
		"performData":  "0x" + common.Bytes2Hex(performData),
	})
}

// PerformUpkeep handles POST /v1/raffle/upkeep
func (h *Handler) PerformUpkeep(c *gin.Context) {
	if h.upkeep == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "read_only",
			"message": "No PRIVATE_KEY configured; cannot send performUpkeep",
		})
		return
	}

	res, err := h.upkeep.Manual(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, raffle.ErrUpkeepNotNeeded) {
			status = http.StatusConflict
		}
		body := gin.H{"error": "upkeep_failed", "message": err.Error()}
		if res != nil && res.TxHash != "" {
			body["txHash"] = res.TxHash
		}
		c.JSON(status, body)
		return
	}
	if !res.Needed {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "upkeep_not_needed",
			"message": "checkUpkeep returned false",
		})
		return
	}
	c.JSON(http.StatusAccepted, res)
}
