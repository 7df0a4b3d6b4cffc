package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/raffle/internal/chain"
)

// upkeepOutput merges the server's and the contract's view of an upkeep.
type upkeepOutput struct {
	Needed      bool   `json:"upkeepNeeded"`
	RequestID   string `json:"requestId,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	GasUsed     uint64 `json:"gasUsed,omitempty"`
	State       string `json:"state,omitempty"`
}

// NewUpkeepCommand triggers a draw when one is due.
func NewUpkeepCommand(opts *RootOptions) *cobra.Command {
	var (
		gasLimit uint64
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upkeep",
		Short: "Close the round and request a winner if a draw is due",
		Long: `Check upkeep and, if it is needed, perform it.

Against a server this calls POST /v1/raffle/upkeep with the admin secret.
With --rpc-url and --raffle it reads checkUpkeep on the contract and sends
performUpkeep from --private-key, waiting for the receipt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out, err := opts.performUpkeep(ctx, gasLimit, timeout)
			if err != nil {
				return WrapExitError(ExitFailure, "upkeep", err)
			}
			return opts.formatter(cmd).Success(out, func(w io.Writer) {
				writeUpkeep(w, out)
			})
		},
	}
	cmd.Flags().Uint64Var(&gasLimit, "gas-limit", chain.DefaultUpkeepGasLimit, "gas limit for performUpkeep")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "overall timeout including the wait for the receipt")
	return cmd
}

func (o *RootOptions) performUpkeep(ctx context.Context, gasLimit uint64, timeout time.Duration) (upkeepOutput, error) {
	if o.onChain() {
		c, closeFn, err := o.dialRaffle(ctx, true)
		if err != nil {
			return upkeepOutput{}, err
		}
		defer closeFn()

		res, err := chain.NewUpkeepTarget(c.Raffle, gasLimit, timeout).Manual(ctx)
		if err != nil {
			if res != nil && res.TxHash != "" {
				return upkeepOutput{}, fmt.Errorf("tx %s: %w", res.TxHash, err)
			}
			return upkeepOutput{}, err
		}
		out := upkeepOutput{Needed: res.Needed, TxHash: res.TxHash, BlockNumber: res.BlockNumber, GasUsed: res.GasUsed}
		if res.RequestID != nil {
			out.RequestID = res.RequestID.String()
		}
		return out, nil
	}

	// The server only answers 2xx when it performed the upkeep.
	raw, err := o.client().PerformUpkeep(ctx)
	if err != nil {
		return upkeepOutput{}, err
	}
	var resp struct {
		RequestID   json.Number `json:"requestId"`
		TxHash      string      `json:"txHash"`
		BlockNumber uint64      `json:"blockNumber"`
		GasUsed     uint64      `json:"gasUsed"`
		State       string      `json:"state"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return upkeepOutput{}, fmt.Errorf("decode upkeep: %w", err)
	}
	return upkeepOutput{
		Needed:      true,
		RequestID:   resp.RequestID.String(),
		TxHash:      resp.TxHash,
		BlockNumber: resp.BlockNumber,
		GasUsed:     resp.GasUsed,
		State:       resp.State,
	}, nil
}

func writeUpkeep(w io.Writer, out upkeepOutput) {
	if !out.Needed {
		fmt.Fprintln(w, "No upkeep needed.")
		return
	}
	fmt.Fprintln(w, "Upkeep performed.")
	if out.RequestID != "" {
		fmt.Fprintf(w, "Request ID:  %s\n", out.RequestID)
	}
	if out.TxHash != "" {
		fmt.Fprintf(w, "Transaction: %s\n", out.TxHash)
	}
	if out.BlockNumber > 0 {
		fmt.Fprintf(w, "Block:       %d (gas used %d)\n", out.BlockNumber, out.GasUsed)
	}
	if out.State != "" {
		fmt.Fprintf(w, "State:       %s\n", out.State)
	}
}
