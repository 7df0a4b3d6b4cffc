package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/mbd888/raffle/internal/chain"
	"github.com/mbd888/raffle/internal/raffle"
	"github.com/mbd888/raffle/internal/wallet"
)

// NewStatusCommand prints the raffle status.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current raffle round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			st, err := opts.fetchStatus(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "read status", err)
			}
			return opts.formatter(cmd).Success(st, func(w io.Writer) {
				writeStatus(w, st)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func (o *RootOptions) fetchStatus(ctx context.Context) (raffle.StatusResponse, error) {
	if o.onChain() {
		binding, closeFn, err := o.dialRaffle(ctx, false)
		if err != nil {
			return raffle.StatusResponse{}, err
		}
		defer closeFn()
		return binding.Raffle.Status(ctx)
	}

	raw, err := o.client().Status(ctx)
	if err != nil {
		return raffle.StatusResponse{}, err
	}
	var resp struct {
		Raffle raffle.StatusResponse `json:"raffle"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return raffle.StatusResponse{}, fmt.Errorf("decode status: %w", err)
	}
	return resp.Raffle, nil
}

func writeStatus(w io.Writer, st raffle.StatusResponse) {
	fmt.Fprintf(w, "Raffle:        %s\n", st.Address)
	fmt.Fprintf(w, "State:         %s\n", st.State)
	fmt.Fprintf(w, "Entrance fee:  %s ETH\n", st.EntranceFeeEth)
	fmt.Fprintf(w, "Interval:      %s\n", time.Duration(st.IntervalSeconds)*time.Second)
	fmt.Fprintf(w, "Players:       %d\n", st.NumPlayers)
	fmt.Fprintf(w, "Prize pool:    %s ETH\n", st.BalanceEth)
	if st.LatestTimestamp > 0 {
		fmt.Fprintf(w, "Round opened:  %s\n", time.Unix(st.LatestTimestamp, 0).UTC().Format(time.RFC3339))
	}
	if st.RecentWinner != "" {
		fmt.Fprintf(w, "Recent winner: %s\n", st.RecentWinner)
	}
	fmt.Fprintf(w, "Draw due:      %s\n", yesNo(st.UpkeepNeeded))
}

// contract is a dialed raffle binding plus what it needs closing.
type contract struct {
	Raffle *chain.Raffle
	Client *ethclient.Client
	Wallet *wallet.Wallet
}

// dialRaffle connects to --rpc-url. With signer set the private key is
// required and transactions are sent from it.
func (o *RootOptions) dialRaffle(ctx context.Context, signer bool) (*contract, func(), error) {
	if !common.IsHexAddress(o.Raffle) {
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid raffle address %q", o.Raffle))
	}
	client, err := ethclient.DialContext(ctx, o.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", o.RPCURL, err)
	}
	c := &contract{Client: client}
	// The wallet shares the client; closing it closes the connection.
	closeFn := func() {
		if c.Wallet != nil {
			_ = c.Wallet.Close()
			return
		}
		client.Close()
	}

	var transactor chain.Transactor
	if signer {
		key := o.privateKey()
		if key == "" {
			closeFn()
			return nil, nil, NewExitError(ExitCommandError, "a private key is required (--private-key or PRIVATE_KEY)")
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("chain id: %w", err)
		}
		w, err := wallet.New(wallet.Config{
			RPCURL:     o.RPCURL,
			PrivateKey: key,
			ChainID:    chainID.Int64(),
		}, wallet.WithClient(client))
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		c.Wallet = w
		transactor = w
	}
	c.Raffle = chain.NewRaffle(common.HexToAddress(o.Raffle), client, transactor)
	return c, closeFn, nil
}
