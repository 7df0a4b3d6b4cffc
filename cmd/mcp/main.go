// Raffle MCP Server - exposes a running raffle server as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/raffle/internal/mcpserver"
)

// Version is set at build time.
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL:      envOrDefault("RAFFLE_API_URL", "http://localhost:8080"),
		AdminSecret: os.Getenv("RAFFLE_ADMIN_SECRET"),
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
