package vrf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVRFRouter(t *testing.T) (*gin.Engine, *MockCoordinator, uint64, *recordingConsumer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, subID, consumer := newTestMock(t)
	h := NewHandler(m)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	h.RegisterProtectedRoutes(v1)
	return r, m, subID, consumer
}

func serve(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
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

func TestHandler_GetSubscription(t *testing.T) {
	r, _, _, _ := setupVRFRouter(t)

	w := serve(r, "GET", "/v1/vrf/subscriptions/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balanceLink":"1"`)

	w = serve(r, "GET", "/v1/vrf/subscriptions/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, "GET", "/v1/vrf/subscriptions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_FundSubscription(t *testing.T) {
	r, m, subID, _ := setupVRFRouter(t)

	w := serve(r, "POST", "/v1/vrf/subscriptions/1/fund", FundSubscriptionRequest{Amount: "0.5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	sub, err := m.GetSubscription(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", sub.Balance.String())

	w = serve(r, "POST", "/v1/vrf/subscriptions/1/fund", FundSubscriptionRequest{Amount: "lots"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, "POST", "/v1/vrf/subscriptions/1/fund", FundSubscriptionRequest{Amount: "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_amount")

	w = serve(r, "POST", "/v1/vrf/subscriptions/5/fund", FundSubscriptionRequest{Amount: "1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ListAndFulfill(t *testing.T) {
	r, m, subID, consumer := setupVRFRouter(t)
	ctx := context.Background()

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)

	w := serve(r, "GET", "/v1/vrf/requests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = serve(r, "POST", "/v1/vrf/requests/"+id.String()+"/fulfill", FulfillBody{Words: []string{"7"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"fulfilled":true`)
	require.Equal(t, 1, consumer.callCount())
	assert.Equal(t, "7", consumer.words[0][0].String())

	w = serve(r, "POST", "/v1/vrf/requests/"+id.String()+"/fulfill", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "nonexistent_request")

	w = serve(r, "GET", "/v1/vrf/fulfillments?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandler_FulfillErrors(t *testing.T) {
	r, m, subID, consumer := setupVRFRouter(t)
	ctx := context.Background()

	w := serve(r, "POST", "/v1/vrf/requests/0/fulfill", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)
	path := "/v1/vrf/requests/" + id.String() + "/fulfill"

	for _, bad := range []string{"-1", "", "0x10", "1e3"} {
		w = serve(r, "POST", path, FulfillBody{Words: []string{bad}})
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.Contains(t, w.Body.String(), `"field":"words"`, bad)
	}

	w = serve(r, "POST", path, FulfillBody{Words: []string{"1", "2"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_random_words")

	consumer.err = errors.New("payout unavailable")
	w = serve(r, "POST", path, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "callback_failed")

	consumer.err = nil
	w = serve(r, "POST", path, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
