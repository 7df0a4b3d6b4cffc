package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mbd888/raffle/internal/chain"
	"github.com/mbd888/raffle/internal/ethunit"
	"github.com/mbd888/raffle/internal/logging"
	"github.com/mbd888/raffle/internal/raffle"
	"github.com/mbd888/raffle/internal/realtime"
)

type watchOptions struct {
	untilWinner bool
	players     []string
	timeout     time.Duration
	poll        time.Duration
}

// NewWatchCommand follows raffle events.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	wo := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream raffle events",
		Long: `Stream raffle events as they happen.

Against a server this subscribes to its /ws stream. With --rpc-url and
--raffle it polls the contract's logs instead. --until-winner exits after
the first WinnerPicked event, which is how a test round waits for its draw.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if wo.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wo.timeout)
				defer cancel()
			}

			f := opts.formatter(cmd)
			events := make(chan raffle.Event, 64)
			errc := make(chan error, 1)
			go func() {
				if opts.onChain() {
					errc <- opts.watchChain(ctx, wo, f, events)
				} else {
					errc <- opts.watchStream(ctx, wo, f, events)
				}
			}()

			for {
				select {
				case ev := <-events:
					if err := writeEvent(f, ev); err != nil {
						return err
					}
					if wo.untilWinner && ev.Type == raffle.EventWinnerPicked {
						return nil
					}
				case err := <-errc:
					switch {
					case ctx.Err() != nil && wo.untilWinner:
						return NewExitError(ExitFailure, "timed out waiting for a winner")
					case err != nil && ctx.Err() == nil:
						return WrapExitError(ExitFailure, "watch", err)
					case wo.untilWinner:
						return NewExitError(ExitFailure, "stopped before a winner was picked")
					}
					return nil
				case <-ctx.Done():
					if wo.untilWinner {
						return NewExitError(ExitFailure, "timed out waiting for a winner")
					}
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVar(&wo.untilWinner, "until-winner", false, "exit after the first WinnerPicked event")
	cmd.Flags().StringSliceVar(&wo.players, "player", nil, "only show events for these players (server stream only)")
	cmd.Flags().DurationVar(&wo.timeout, "timeout", 0, "stop after this long (0 = no limit)")
	cmd.Flags().DurationVar(&wo.poll, "poll", 4*time.Second, "log poll interval (on-chain only)")
	return cmd
}

// streamURL turns the API base URL into the websocket endpoint.
func streamURL(apiURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

func (o *RootOptions) watchStream(ctx context.Context, wo *watchOptions, f *OutputFormatter, out chan<- raffle.Event) error {
	target, err := streamURL(o.APIURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close()
	f.VerboseLog("connected to %s", target)

	if len(wo.players) > 0 {
		sub := realtime.Subscription{Players: wo.players}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	// Unblock ReadMessage on cancellation.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var msg struct {
			Type raffle.EventType `json:"type"`
			Data json.RawMessage  `json:"data"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == realtime.EventSnapshot {
			f.VerboseLog("snapshot: %s", string(msg.Data))
			continue
		}
		var ev raffle.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// chanSink forwards watcher events; Publish must not block so a full
// channel drops.
type chanSink chan<- raffle.Event

func (c chanSink) Publish(_ context.Context, ev raffle.Event) {
	select {
	case c <- ev:
	default:
	}
}

func (o *RootOptions) watchChain(ctx context.Context, wo *watchOptions, f *OutputFormatter, out chan<- raffle.Event) error {
	c, closeFn, err := o.dialRaffle(ctx, false)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg := chain.DefaultWatcherConfig(common.HexToAddress(o.Raffle))
	cfg.PollInterval = wo.poll
	logger := logging.Discard()
	if f.Verbose {
		logger = logging.NewWithWriter(f.ErrWriter, "debug", "text")
	}
	w := chain.NewEventWatcher(c.Client, cfg, chanSink(out), logger)
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func writeEvent(f *OutputFormatter, ev raffle.Event) error {
	return f.Success(ev, func(w io.Writer) {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s  %-24s round=%d", at.UTC().Format(time.RFC3339), ev.Type, ev.Round)
		if ev.Player != nil {
			fmt.Fprintf(&b, " player=%s", ev.Player.Hex())
		}
		if ev.Amount != nil {
			fmt.Fprintf(&b, " amount=%sETH", ethunit.FormatEther(ev.Amount))
		}
		if ev.RequestID != nil {
			fmt.Fprintf(&b, " request=%s", ev.RequestID)
		}
		if ev.TxHash != "" {
			fmt.Fprintf(&b, " tx=%s", ev.TxHash)
		}
		fmt.Fprintln(w, b.String())
	})
}
