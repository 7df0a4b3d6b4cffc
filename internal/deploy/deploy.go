// Package deploy plans and performs raffle deployments.
//
// On development chains a mock VRF coordinator is deployed first, a
// subscription is created and funded, the raffle is constructed and then
// registered as a consumer. Public chains use the coordinator and
// subscription from the network table; only the constructor arguments are
// produced here, the contract itself is deployed by the operator.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/raffle/internal/chain"
	"github.com/mbd888/raffle/internal/config"
	"github.com/mbd888/raffle/internal/raffle"
	"github.com/mbd888/raffle/internal/vrf"
)

// DefaultDeployer is the first hardhat account; dev deployments derive
// contract addresses from it.
var DefaultDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

var ErrNotDevelopment = errors.New("deploy: local deployment requires a development network")

// ConstructorArgs are the Raffle constructor arguments, in order.
type ConstructorArgs struct {
	VRFCoordinator   common.Address `json:"vrfCoordinatorV2"`
	EntranceFee      *big.Int       `json:"entranceFee"`
	GasLane          common.Hash    `json:"gasLane"`
	SubscriptionID   uint64         `json:"subscriptionId"`
	CallbackGasLimit uint32         `json:"callbackGasLimit"`
	Interval         time.Duration  `json:"-"`
}

// ArgsFor builds constructor arguments from a network entry. coordinator and
// subID override the table values; pass the zero values to keep them.
func ArgsFor(n config.Network, coordinator common.Address, subID uint64) (ConstructorArgs, error) {
	fee, err := n.EntranceFeeWei()
	if err != nil {
		return ConstructorArgs{}, fmt.Errorf("entrance fee: %w", err)
	}
	interval, err := n.IntervalDuration()
	if err != nil {
		return ConstructorArgs{}, fmt.Errorf("interval: %w", err)
	}
	lane, err := n.GasLaneHash()
	if err != nil {
		return ConstructorArgs{}, fmt.Errorf("gas lane: %w", err)
	}

	args := ConstructorArgs{
		VRFCoordinator:   coordinator,
		EntranceFee:      fee,
		GasLane:          lane,
		SubscriptionID:   subID,
		CallbackGasLimit: n.CallbackGasLimit,
		Interval:         interval,
	}
	if !n.IsDevelopment() {
		if args.VRFCoordinator == (common.Address{}) {
			args.VRFCoordinator = n.CoordinatorAddress()
		}
		if args.SubscriptionID == 0 {
			if args.SubscriptionID, err = n.SubscriptionIDValue(); err != nil {
				return ConstructorArgs{}, fmt.Errorf("subscription id: %w", err)
			}
		}
	}
	return args, nil
}

// Pack ABI-encodes the arguments as they are appended to the creation code.
func (a ConstructorArgs) Pack() ([]byte, error) {
	return chain.ParsedABI.Pack("",
		a.VRFCoordinator,
		a.EntranceFee,
		[32]byte(a.GasLane),
		a.SubscriptionID,
		a.CallbackGasLimit,
		big.NewInt(int64(a.Interval/time.Second)),
	)
}

// Strings renders the arguments the way hardhat prints them.
func (a ConstructorArgs) Strings() []string {
	return []string{
		a.VRFCoordinator.Hex(),
		a.EntranceFee.String(),
		a.GasLane.Hex(),
		fmt.Sprintf("%d", a.SubscriptionID),
		fmt.Sprintf("%d", a.CallbackGasLimit),
		fmt.Sprintf("%d", int64(a.Interval/time.Second)),
	}
}

// Params converts the arguments into engine parameters.
func (a ConstructorArgs) Params() raffle.Params {
	return raffle.Params{
		EntranceFee:      new(big.Int).Set(a.EntranceFee),
		Interval:         a.Interval,
		GasLane:          a.GasLane,
		SubscriptionID:   a.SubscriptionID,
		CallbackGasLimit: a.CallbackGasLimit,
	}
}

// Plan describes what a deployment to a network involves.
type Plan struct {
	Network       config.Network  `json:"network"`
	DeployMocks   bool            `json:"deployMocks"`
	Args          ConstructorArgs `json:"args"`
	ArgsHex       string          `json:"argsHex"`
	Confirmations uint64          `json:"confirmations"`
	Steps         []string        `json:"steps"`
}

// PlanFor returns the deployment plan. On development networks the
// coordinator and subscription id are those a fresh Local deployment from
// DefaultDeployer produces.
func PlanFor(n config.Network) (Plan, error) {
	plan := Plan{
		Network:       n,
		DeployMocks:   n.IsDevelopment(),
		Confirmations: n.BlockConfirmations(),
	}

	var coordinator common.Address
	var subID uint64
	if plan.DeployMocks {
		coordinator, _ = devAddresses(DefaultDeployer)
		subID = 1
	}
	args, err := ArgsFor(n, coordinator, subID)
	if err != nil {
		return Plan{}, err
	}
	packed, err := args.Pack()
	if err != nil {
		return Plan{}, fmt.Errorf("pack constructor args: %w", err)
	}
	plan.Args = args
	plan.ArgsHex = hexutil.Encode(packed)

	if plan.DeployMocks {
		plan.Steps = []string{
			fmt.Sprintf("deploy VRFCoordinatorV2Mock(baseFee=%s, gasPriceLink=%s)", config.MockBaseFee, config.MockGasPriceLink),
			"createSubscription()",
			fmt.Sprintf("fundSubscription(%d, %s)", subID, config.FundAmount),
			"deploy Raffle(" + strings.Join(args.Strings(), ", ") + ")",
			fmt.Sprintf("addConsumer(%d, raffle)", subID),
		}
	} else {
		plan.Steps = []string{
			"deploy Raffle(" + strings.Join(args.Strings(), ", ") + ")",
			fmt.Sprintf("wait %d confirmations", plan.Confirmations),
			fmt.Sprintf("add raffle as consumer of subscription %d", args.SubscriptionID),
		}
	}
	return plan, nil
}

// LocalOptions configure Local. Payer is required.
type LocalOptions struct {
	Payer      raffle.Payer
	Store      raffle.Store
	Deployer   common.Address
	FundAmount *big.Int
	Logger     *slog.Logger
	// Engine options appended after the logger.
	EngineOptions []raffle.Option
}

// Deployment is a booted development stack.
type Deployment struct {
	Network        config.Network
	Coordinator    *vrf.MockCoordinator
	SubscriptionID uint64
	Engine         *raffle.Engine
	Args           ConstructorArgs
}

// Local performs the development deployment in-process.
func Local(ctx context.Context, n config.Network, opts LocalOptions) (*Deployment, error) {
	if !n.IsDevelopment() {
		return nil, fmt.Errorf("%w: %s", ErrNotDevelopment, n.Name)
	}
	if opts.Payer == nil {
		return nil, fmt.Errorf("deploy: payer is required")
	}
	if opts.Store == nil {
		opts.Store = raffle.NewMemoryStore()
	}
	if opts.Deployer == (common.Address{}) {
		opts.Deployer = DefaultDeployer
	}
	if opts.FundAmount == nil {
		opts.FundAmount = config.FundAmount
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("network", n.Name)

	coordAddr, raffleAddr := devAddresses(opts.Deployer)
	coord := vrf.NewMockCoordinator(config.MockBaseFee, config.MockGasPriceLink,
		vrf.WithAddress(coordAddr), vrf.WithLogger(logger))
	logger.Info("deployed mock coordinator", "address", coordAddr.Hex())

	subID, err := coord.CreateSubscription(ctx, opts.Deployer)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if err := coord.FundSubscription(ctx, subID, opts.FundAmount); err != nil {
		return nil, fmt.Errorf("fund subscription: %w", err)
	}

	args, err := ArgsFor(n, coordAddr, subID)
	if err != nil {
		return nil, err
	}

	engineOpts := append([]raffle.Option{raffle.WithLogger(logger)}, opts.EngineOptions...)
	engine, err := raffle.NewEngine(ctx, args.Params(), raffleAddr, coord, opts.Payer, opts.Store, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("construct raffle: %w", err)
	}
	if err := coord.AddConsumer(ctx, subID, raffleAddr, engine); err != nil {
		return nil, fmt.Errorf("add consumer: %w", err)
	}
	if err := resume(ctx, coord, engine, opts.Store, logger); err != nil {
		return nil, err
	}
	logger.Info("deployed raffle",
		"address", raffleAddr.Hex(),
		"subscription", subID,
		"entranceFee", args.EntranceFee.String(),
		"interval", args.Interval.String(),
	)

	return &Deployment{
		Network:        n,
		Coordinator:    coord,
		SubscriptionID: subID,
		Engine:         engine,
		Args:           args,
	}, nil
}

// resume carries the engine's persisted randomness state into a fresh mock
// coordinator: request ids continue past every id the store has seen, and a
// request still pending at shutdown is registered again so it can be
// fulfilled.
func resume(ctx context.Context, coord *vrf.MockCoordinator, engine *raffle.Engine, store raffle.Store, logger *slog.Logger) error {
	draws, err := store.ListDraws(ctx, 0, 1)
	if err != nil {
		return fmt.Errorf("load latest draw: %w", err)
	}
	if len(draws) > 0 {
		coord.AdvanceRequestID(draws[0].RequestID)
	}

	snap := engine.Snapshot()
	if snap.Pending == nil {
		return nil
	}
	p := engine.Params()
	err = coord.Restore(ctx, vrf.PendingRequest{
		ID: snap.Pending.RequestID,
		Request: vrf.Request{
			KeyHash:          p.GasLane,
			SubID:            p.SubscriptionID,
			MinConfirmations: p.RequestConfirmations,
			CallbackGasLimit: p.CallbackGasLimit,
			NumWords:         p.NumWords,
			Consumer:         engine.Address(),
		},
		RequestedAt: snap.Pending.RequestedAt,
	})
	if err != nil {
		return fmt.Errorf("restore pending request: %w", err)
	}
	logger.Info("resumed pending draw", "round", snap.Pending.Round, "vrf_request_id", snap.Pending.RequestID.String())
	return nil
}

// devAddresses returns the addresses the mock coordinator (nonce 0) and the
// raffle (nonce 1) get when deployed from deployer.
func devAddresses(deployer common.Address) (coordinator, raffleAddr common.Address) {
	return crypto.CreateAddress(deployer, 0), crypto.CreateAddress(deployer, 1)
}
