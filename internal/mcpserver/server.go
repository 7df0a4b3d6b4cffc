package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all raffle tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("raffle", version)
	h := NewHandlers(NewRaffleClient(cfg))

	s.AddTool(ToolServerInfo, h.HandleServerInfo)
	s.AddTool(ToolRaffleStatus, h.HandleRaffleStatus)
	s.AddTool(ToolEnterRaffle, h.HandleEnterRaffle)
	s.AddTool(ToolCheckUpkeep, h.HandleCheckUpkeep)
	s.AddTool(ToolPerformUpkeep, h.HandlePerformUpkeep)
	s.AddTool(ToolListDraws, h.HandleListDraws)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)

	return s
}
