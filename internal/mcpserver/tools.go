package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the raffle MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolServerInfo = mcp.NewTool("server_info",
	mcp.WithDescription(
		"Describe the raffle server: whether it runs an in-process development raffle or fronts a deployed contract, "+
			"the network and chain id, and the raffle and coordinator addresses."),
)

var ToolRaffleStatus = mcp.NewTool("raffle_status",
	mcp.WithDescription(
		"Get the current raffle round: state (open or calculating), entrance fee in ETH, number of players, "+
			"prize pool, the most recent winner, and whether a draw is due."),
)

var ToolEnterRaffle = mcp.NewTool("enter_raffle",
	mcp.WithDescription(
		"Enter a player into the open raffle round. "+
			"The payment must be at least the entrance fee; overpayment stays in the prize pool. "+
			"Fails while a winner is being picked."),
	mcp.WithString("player",
		mcp.Required(),
		mcp.Description("The player's address (e.g. '0x7099...79C8')")),
	mcp.WithString("amount",
		mcp.Description("Payment in ETH (e.g. '0.01') or wei. Defaults to the entrance fee.")),
)

var ToolCheckUpkeep = mcp.NewTool("check_upkeep",
	mcp.WithDescription(
		"Check whether a draw is due. A draw needs the round open, the interval elapsed, "+
			"at least one player and a non-zero balance. Shows which conditions hold."),
)

var ToolPerformUpkeep = mcp.NewTool("perform_upkeep",
	mcp.WithDescription(
		"Close the current round and request a random number to pick the winner. "+
			"Operator-only: the server must accept the configured admin secret. "+
			"Fails if check_upkeep reports that no draw is due."),
)

var ToolListDraws = mcp.NewTool("list_draws",
	mcp.WithDescription(
		"List past draws with their winner, prize and number of players, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of draws to return (default 10)")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check a player's winnings held by the development ledger. "+
			"Only available when the server runs the in-process raffle."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The player's address")),
)
