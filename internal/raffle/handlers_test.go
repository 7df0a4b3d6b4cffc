package raffle

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *harness) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := newHarness(t)
	handler := NewHandler(h.engine)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterProtectedRoutes(v1)
	return r, h
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_EnterAndStatus(t *testing.T) {
	router, h := setupTestRouter(t)

	w := doJSON(router, "POST", "/v1/raffle/enter", EnterRequest{Player: entrants[0].Hex()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(router, "POST", "/v1/raffle/enter", EnterRequest{Player: entrants[1].Hex(), Amount: "0.02"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(router, "GET", "/v1/raffle", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Raffle StatusResponse `json:"raffle"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StateOpen, resp.Raffle.State)
	assert.Equal(t, 2, resp.Raffle.NumPlayers)
	assert.Equal(t, "30000000000000000", resp.Raffle.Balance)
	assert.Equal(t, "0.03", resp.Raffle.BalanceEth)
	assert.Equal(t, "0.01", resp.Raffle.EntranceFeeEth)
	assert.Equal(t, int64(30), resp.Raffle.IntervalSeconds)
	assert.False(t, resp.Raffle.UpkeepNeeded)
	assert.Equal(t, raffleAddr.Hex(), resp.Raffle.Address)
	assert.Equal(t, 2, h.engine.NumPlayers())
}

func TestHandler_EnterValidation(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name string
		body any
		code int
		err  string
	}{
		{"bad address", EnterRequest{Player: "0x123"}, http.StatusBadRequest, "validation_error"},
		{"missing player", map[string]string{"amount": "0.01"}, http.StatusBadRequest, "invalid_request"},
		{"bad amount", EnterRequest{Player: entrants[0].Hex(), Amount: "abc"}, http.StatusBadRequest, "validation_error"},
		{"underpaid", EnterRequest{Player: entrants[0].Hex(), Amount: "0.001"}, http.StatusBadRequest, "insufficient_payment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, "POST", "/v1/raffle/enter", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.err)
		})
	}
}

func TestHandler_Players(t *testing.T) {
	router, h := setupTestRouter(t)
	h.enterAll(t, entrants[:2]...)

	w := doJSON(router, "GET", "/v1/raffle/players/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), entrants[1].Hex())

	w = doJSON(router, "GET", "/v1/raffle/players/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "index_out_of_range")

	w = doJSON(router, "GET", "/v1/raffle/players/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "GET", "/v1/raffle/players", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestHandler_UpkeepCycle(t *testing.T) {
	router, h := setupTestRouter(t)

	w := doJSON(router, "POST", "/v1/raffle/upkeep", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "upkeep_not_needed")
	assert.Contains(t, w.Body.String(), `"numPlayers":0`)

	h.enterAll(t, entrants...)
	h.clock.Advance(time.Minute)

	w = doJSON(router, "GET", "/v1/raffle/upkeep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"upkeepNeeded":true`)
	assert.Contains(t, w.Body.String(), `"performData":"0x"`)

	w = doJSON(router, "POST", "/v1/raffle/upkeep", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"requestId":"1"`)
	assert.Contains(t, w.Body.String(), `"state":"calculating"`)

	w = doJSON(router, "POST", "/v1/raffle/enter", EnterRequest{Player: entrants[0].Hex()})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "not_open")
}

func TestHandler_ListDraws(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(router, "GET", "/v1/raffle/draws?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"draws":[]`)
	assert.Contains(t, w.Body.String(), `"hasMore":false`)
	assert.NotContains(t, w.Body.String(), "nextCursor")

	w = doJSON(router, "GET", "/v1/raffle/draws?cursor=not-a-cursor", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_cursor")
}
