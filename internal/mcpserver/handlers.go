package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/raffle/internal/ethunit"
)

// Handlers holds the handler functions for each MCP tool. Handlers never
// return a Go error; failures are reported as error results so the model
// can read them.
type Handlers struct {
	client *RaffleClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *RaffleClient) *Handlers {
	return &Handlers{client: client}
}

// HandleServerInfo describes the server.
func (h *Handlers) HandleServerInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Info(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get server info: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleRaffleStatus summarizes the current round.
func (h *Handlers) HandleRaffleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get raffle status: %v", err)), nil
	}

	text, err := formatStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse raffle status: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleEnterRaffle enters a player.
func (h *Handlers) HandleEnterRaffle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	player := req.GetString("player", "")
	if player == "" {
		return mcp.NewToolResultError("player is required"), nil
	}
	amount := req.GetString("amount", "")

	raw, err := h.client.Enter(ctx, player, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Entry failed: %v", err)), nil
	}

	m, err := decode(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse entry: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Entered %s into the raffle.\nPaid: %s ETH\nPlayers this round: %s",
		getString(m, "player"), weiToEth(getString(m, "payment")), getString(m, "numPlayers"))), nil
}

// HandleCheckUpkeep reports whether a draw is due and why.
func (h *Handlers) HandleCheckUpkeep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.CheckUpkeep(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check upkeep: %v", err)), nil
	}

	text, err := formatUpkeep(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse upkeep: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePerformUpkeep closes the round and requests randomness.
func (h *Handlers) HandlePerformUpkeep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.PerformUpkeep(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Upkeep failed: %v", err)), nil
	}

	m, err := decode(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse upkeep result: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Round closed; a winner will be picked once randomness arrives.\n")
	if v := getString(m, "requestId"); v != "" {
		fmt.Fprintf(&sb, "Request ID: %s\n", v)
	}
	if v := getString(m, "txHash"); v != "" {
		fmt.Fprintf(&sb, "Transaction: %s\n", v)
	}
	if v := getString(m, "state"); v != "" {
		fmt.Fprintf(&sb, "State: %s\n", v)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListDraws lists past draws.
func (h *Handlers) HandleListDraws(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)

	raw, err := h.client.ListDraws(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list draws: %v", err)), nil
	}

	text, err := formatDraws(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse draws: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCheckBalance returns a player's ledger balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	raw, err := h.client.GetBalance(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- formatting ---

// decode keeps numbers as json.Number; wei amounts overflow float64.
func decode(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func formatStatus(raw json.RawMessage) (string, error) {
	resp, err := decode(raw)
	if err != nil {
		return "", err
	}
	// Both {"raffle": {...}} and a bare status object are accepted.
	st := resp
	if r, ok := resp["raffle"].(map[string]any); ok {
		st = r
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Raffle %s\n", getString(st, "address"))
	fmt.Fprintf(&sb, "  State: %s\n", getString(st, "state"))
	if v := getString(st, "round"); v != "" {
		fmt.Fprintf(&sb, "  Round: %s\n", v)
	}
	fee := getString(st, "entranceFeeEth")
	if fee == "" {
		fee = weiToEth(getString(st, "entranceFee"))
	}
	fmt.Fprintf(&sb, "  Entrance fee: %s ETH\n", fee)
	fmt.Fprintf(&sb, "  Players: %s\n", getString(st, "numPlayers"))
	pool := getString(st, "balanceEth")
	if pool == "" {
		pool = weiToEth(getString(st, "balance"))
	}
	fmt.Fprintf(&sb, "  Prize pool: %s ETH\n", pool)
	if v := getString(st, "recentWinner"); v != "" {
		fmt.Fprintf(&sb, "  Recent winner: %s\n", v)
	}
	if due, ok := st["upkeepNeeded"].(bool); ok {
		fmt.Fprintf(&sb, "  Draw due: %s\n", yesNo(due))
	}
	return sb.String(), nil
}

func formatUpkeep(raw json.RawMessage) (string, error) {
	m, err := decode(raw)
	if err != nil {
		return "", err
	}
	needed, _ := m["upkeepNeeded"].(bool)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Draw due: %s\n", yesNo(needed))
	if el, ok := m["eligibility"].(map[string]any); ok {
		for _, c := range []struct{ key, label string }{
			{"open", "Round open"},
			{"timePassed", "Interval elapsed"},
			{"hasPlayers", "Has players"},
			{"hasBalance", "Has balance"},
		} {
			v, _ := el[c.key].(bool)
			fmt.Fprintf(&sb, "  %s: %s\n", c.label, yesNo(v))
		}
	}
	return sb.String(), nil
}

func formatDraws(raw json.RawMessage) (string, error) {
	m, err := decode(raw)
	if err != nil {
		return "", err
	}
	items, _ := m["draws"].([]any)
	if len(items) == 0 {
		return "No draws yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d draw(s):\n\n", len(items))
	for _, it := range items {
		d, ok := it.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "Round %s: %s won %s ETH (%s players)\n",
			getString(d, "round"), getString(d, "winner"),
			weiToEth(getString(d, "prize")), getString(d, "numPlayers"))
	}
	return sb.String(), nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	resp, err := decode(raw)
	if err != nil {
		return "", err
	}
	bal := resp
	if b, ok := resp["balance"].(map[string]any); ok {
		bal = b
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balance of %s:\n", getString(bal, "address"))
	available := getString(resp, "availableEth")
	if available == "" {
		available = weiToEth(getString(bal, "available"))
	}
	fmt.Fprintf(&sb, "  Available: %s ETH\n", available)
	if v := getString(bal, "totalIn"); v != "" && v != "0" {
		fmt.Fprintf(&sb, "  Won:       %s ETH\n", weiToEth(v))
	}
	if v := getString(bal, "totalOut"); v != "" && v != "0" {
		fmt.Fprintf(&sb, "  Withdrawn: %s ETH\n", weiToEth(v))
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// weiToEth renders a decimal wei string in ether. Unparseable input is
// returned unchanged.
func weiToEth(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return wei
	}
	return ethunit.FormatEther(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// getString extracts a value from a map as a string, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case json.Number:
			return t.String()
		case bool:
			return fmt.Sprintf("%t", t)
		}
	}
	return ""
}
