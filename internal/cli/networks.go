package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mbd888/raffle/internal/config"
	"github.com/mbd888/raffle/internal/deploy"
)

// NewNetworksCommand lists the network table.
func NewNetworksCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List known networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nets, err := opts.networks()
			if err != nil {
				return err
			}
			sorted := nets.Sorted()
			return opts.formatter(cmd).Success(sorted, func(w io.Writer) {
				writeNetworks(w, sorted)
			})
		},
	}
}

func writeNetworks(w io.Writer, nets []config.Network) {
	fmt.Fprintf(w, "%-10s %-10s %-10s %-9s %s\n", "CHAIN ID", "NAME", "FEE (ETH)", "INTERVAL", "COORDINATOR")
	for _, n := range nets {
		coordinator := n.VRFCoordinator
		if n.IsDevelopment() {
			coordinator = "(mock)"
		}
		interval := n.Interval
		if d, err := n.IntervalDuration(); err == nil {
			interval = d.String()
		}
		fmt.Fprintf(w, "%-10d %-10s %-10s %-9s %s\n", n.ChainID, n.Name, n.EntranceFee, interval, coordinator)
	}
}

// NewPlanCommand prints what deploying to a network involves.
func NewPlanCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <network>",
		Short: "Show the deployment plan and constructor arguments for a network",
		Long: `Show the deployment plan for a network given by name or chain id.

Development networks deploy a mock VRF coordinator and a funded subscription
first; public networks use the coordinator and subscription from the table.
The encoded constructor arguments are what contract verification expects.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nets, err := opts.networks()
			if err != nil {
				return err
			}
			n, err := nets.Lookup(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "lookup network", err)
			}
			plan, err := deploy.PlanFor(n)
			if err != nil {
				return WrapExitError(ExitFailure, "plan deployment", err)
			}
			return opts.formatter(cmd).Success(plan, func(w io.Writer) {
				writePlan(w, plan)
			})
		},
	}
}

var argNames = []string{"vrfCoordinatorV2", "entranceFee", "gasLane", "subscriptionId", "callbackGasLimit", "interval"}

func writePlan(w io.Writer, plan deploy.Plan) {
	fmt.Fprintf(w, "Network:        %s (chain %d)\n", plan.Network.Name, plan.Network.ChainID)
	fmt.Fprintf(w, "Deploy mocks:   %s\n", yesNo(plan.DeployMocks))
	fmt.Fprintf(w, "Confirmations:  %d\n", plan.Confirmations)
	fmt.Fprintln(w, "Constructor args:")
	for i, v := range plan.Args.Strings() {
		fmt.Fprintf(w, "  %-17s %s\n", argNames[i], v)
	}
	fmt.Fprintf(w, "Encoded args:   %s\n", plan.ArgsHex)
	fmt.Fprintln(w, "Steps:")
	for i, s := range plan.Steps {
		fmt.Fprintf(w, "  %d. %s\n", i+1, s)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
