// Package cli implements rafflectl, the operator command line for the
// raffle: inspect networks and deployment plans, read raffle status, trigger
// upkeep and follow draws. Commands talk either to a raffle server's HTTP
// API or, when --rpc-url and --raffle are given, straight to the contract.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mbd888/raffle/internal/config"
	"github.com/mbd888/raffle/internal/mcpserver"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose      bool
	Format       string // "json" | "text"
	NetworksFile string

	// Server access
	APIURL      string
	AdminSecret string

	// Direct contract access
	RPCURL     string
	PrivateKey string
	Raffle     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the rafflectl root command. Flag defaults come from
// the same environment variables the server reads.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "rafflectl",
		Short:   "Operate a provably fair raffle",
		Long:    "rafflectl inspects deployment plans and drives a raffle through its server API or directly on chain.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.NetworksFile, "networks", os.Getenv("NETWORK_CONFIG_FILE"), "YAML or TOML file extending the network table")
	pf.StringVar(&opts.APIURL, "api-url", envOr("RAFFLE_API_URL", "http://localhost:8080"), "raffle server base URL")
	pf.StringVar(&opts.AdminSecret, "admin-secret", os.Getenv("ADMIN_SECRET"), "operator secret for protected routes")
	pf.StringVar(&opts.RPCURL, "rpc-url", os.Getenv("RPC_URL"), "JSON-RPC endpoint; with --raffle, talk to the contract directly")
	pf.StringVar(&opts.PrivateKey, "private-key", "", "signing key for transactions (default $PRIVATE_KEY)")
	pf.StringVar(&opts.Raffle, "raffle", os.Getenv("RAFFLE_ADDRESS"), "deployed raffle contract address")

	cmd.AddCommand(NewNetworksCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewUpkeepCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// onChain reports whether commands should bypass the server.
func (o *RootOptions) onChain() bool {
	return o.RPCURL != "" && o.Raffle != ""
}

// privateKey prefers the flag; the key is kept off the default value so it
// never shows up in --help.
func (o *RootOptions) privateKey() string {
	if o.PrivateKey != "" {
		return o.PrivateKey
	}
	return os.Getenv("PRIVATE_KEY")
}

func (o *RootOptions) client() *mcpserver.RaffleClient {
	return mcpserver.NewRaffleClient(mcpserver.Config{APIURL: o.APIURL, AdminSecret: o.AdminSecret})
}

func (o *RootOptions) networks() (config.Networks, error) {
	nets, err := config.LoadNetworks(o.NetworksFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load networks", err)
	}
	return nets, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
