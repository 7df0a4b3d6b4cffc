package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for reaching a raffle server.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Sent as a bearer token; only operator tools need it
}

// RaffleClient is a thin HTTP client for the raffle server's /v1 API.
type RaffleClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewRaffleClient creates a new client.
func NewRaffleClient(cfg Config) *RaffleClient {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &RaffleClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and returns the response body.
func (c *RaffleClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.AdminSecret != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Info returns what the server is fronting (mode, network, addresses).
func (c *RaffleClient) Info(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/info", nil, nil)
}

// Status returns the raffle status.
func (c *RaffleClient) Status(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/raffle", nil, nil)
}

// Enter enters player into the raffle. An empty amount pays the entrance fee.
func (c *RaffleClient) Enter(ctx context.Context, player, amount string) (json.RawMessage, error) {
	body := map[string]string{"player": player}
	if amount != "" {
		body["amount"] = amount
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/raffle/enter", nil, body)
}

// CheckUpkeep asks whether a draw is due.
func (c *RaffleClient) CheckUpkeep(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/raffle/upkeep", nil, nil)
}

// PerformUpkeep closes the round and requests randomness. Requires the
// admin secret when the server has one configured.
func (c *RaffleClient) PerformUpkeep(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/raffle/upkeep", nil, nil)
}

// ListDraws returns past draws, newest first.
func (c *RaffleClient) ListDraws(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/raffle/draws", q, nil)
}

// GetBalance returns a player's ledger balance (dev mode only).
func (c *RaffleClient) GetBalance(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/ledger/"+url.PathEscape(address), nil, nil)
}
