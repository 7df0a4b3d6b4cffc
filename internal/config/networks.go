package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/raffle/internal/ethunit"
)

// Network describes how the raffle is deployed on one chain.
// Amounts are decimal ether strings, the interval is in seconds.
type Network struct {
	ChainID          int64  `json:"chainId" yaml:"chainId" toml:"chainId"`
	Name             string `json:"name" yaml:"name" toml:"name"`
	VRFCoordinator   string `json:"vrfCoordinatorV2,omitempty" yaml:"vrfCoordinatorV2" toml:"vrfCoordinatorV2"`
	EntranceFee      string `json:"entranceFee" yaml:"entranceFee" toml:"entranceFee"`
	GasLane          string `json:"gasLane" yaml:"gasLane" toml:"gasLane"`
	SubscriptionID   string `json:"subscriptionId,omitempty" yaml:"subscriptionId" toml:"subscriptionId"`
	CallbackGasLimit uint32 `json:"callbackGasLimit" yaml:"callbackGasLimit" toml:"callbackGasLimit"`
	Interval         string `json:"interval" yaml:"interval" toml:"interval"`
}

// Chain IDs of the built-in networks.
const (
	SepoliaChainID = 11155111
	HardhatChainID = 31337
)

// Mock coordinator and deployment constants.
var (
	// MockBaseFee is the premium charged per randomness request (0.25 LINK).
	MockBaseFee = mustEther("0.25")
	// MockGasPriceLink is the LINK-per-gas price used by the mock coordinator.
	MockGasPriceLink = big.NewInt(1e9)
	// FundAmount is what a freshly created dev subscription is funded with.
	FundAmount = ethunit.Ether(1)
)

// Block confirmations to wait after deploying.
const (
	VerificationBlockConfirmations = 6
	DevBlockConfirmations          = 1
)

const defaultGasLane = "0x787d74caea10b2b357790d5b5247c2f63d1d91572a9846f780606e4d953677ae"

var builtinNetworks = map[int64]Network{
	SepoliaChainID: {
		ChainID:          SepoliaChainID,
		Name:             "sepolia",
		VRFCoordinator:   "0x9DdfaCa8183c41ad55329BdeeD9F6A8d53168B1B",
		EntranceFee:      "0.01",
		GasLane:          defaultGasLane,
		SubscriptionID:   "384719",
		CallbackGasLimit: 500000,
		Interval:         "30",
	},
	HardhatChainID: {
		ChainID:          HardhatChainID,
		Name:             "hardhat",
		EntranceFee:      "0.01",
		GasLane:          defaultGasLane, // the mock ignores the key hash
		CallbackGasLimit: 500000,
		Interval:         "30",
	},
}

// DevelopmentChains are the network names that get a mock coordinator.
var DevelopmentChains = []string{"hardhat", "localhost"}

// Networks is a chain-id keyed network table.
type Networks map[int64]Network

// DefaultNetworks returns a copy of the built-in network table.
func DefaultNetworks() Networks {
	out := make(Networks, len(builtinNetworks))
	for id, n := range builtinNetworks {
		out[id] = n
	}
	return out
}

// LoadNetworks returns the built-in table merged with the networks declared
// in path. The file format is picked from the extension (.yaml, .yml, .toml).
// Entries in the file replace built-in entries with the same chain id.
func LoadNetworks(path string) (Networks, error) {
	nets := DefaultNetworks()
	if path == "" {
		return nets, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read network config: %w", err)
	}

	var file struct {
		Networks []Network `yaml:"networks" toml:"networks"`
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported network config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse network config: %w", err)
	}

	for _, n := range file.Networks {
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("network %q: %w", n.Name, err)
		}
		nets[n.ChainID] = n
	}
	return nets, nil
}

// Lookup finds a network by chain id or by name. "localhost" resolves to the
// hardhat network.
func (ns Networks) Lookup(nameOrID string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrID))
	if key == "localhost" {
		key = "hardhat"
	}
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		if n, ok := ns[id]; ok {
			return n, nil
		}
		return Network{}, fmt.Errorf("unknown chain id %d", id)
	}
	for _, n := range ns {
		if strings.EqualFold(n.Name, key) {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("unknown network %q", nameOrID)
}

// Sorted returns the networks ordered by chain id.
func (ns Networks) Sorted() []Network {
	out := make([]Network, 0, len(ns))
	for _, n := range ns {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Validate checks that the network entry can be turned into deploy arguments.
func (n Network) Validate() error {
	if n.ChainID <= 0 {
		return fmt.Errorf("chainId must be positive")
	}
	if n.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := n.EntranceFeeWei(); err != nil {
		return fmt.Errorf("entranceFee: %w", err)
	}
	if _, err := n.IntervalDuration(); err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	if _, err := n.GasLaneHash(); err != nil {
		return fmt.Errorf("gasLane: %w", err)
	}
	if n.CallbackGasLimit == 0 {
		return fmt.Errorf("callbackGasLimit must be positive")
	}
	if !n.IsDevelopment() {
		if !common.IsHexAddress(n.VRFCoordinator) {
			return fmt.Errorf("vrfCoordinatorV2 must be an address on public networks")
		}
		if _, err := n.SubscriptionIDValue(); err != nil {
			return fmt.Errorf("subscriptionId: %w", err)
		}
	}
	return nil
}

// IsDevelopment reports whether the network gets a mock coordinator.
func (n Network) IsDevelopment() bool {
	for _, name := range DevelopmentChains {
		if strings.EqualFold(n.Name, name) {
			return true
		}
	}
	return false
}

// BlockConfirmations is how many blocks a deployment waits for.
func (n Network) BlockConfirmations() uint64 {
	if n.IsDevelopment() {
		return DevBlockConfirmations
	}
	return VerificationBlockConfirmations
}

// EntranceFeeWei parses the entrance fee.
func (n Network) EntranceFeeWei() (*big.Int, error) {
	return ethunit.ParseEther(n.EntranceFee)
}

// IntervalDuration parses the interval. A bare integer is seconds; Go duration
// strings ("45s", "2m") are accepted too.
func (n Network) IntervalDuration() (time.Duration, error) {
	if secs, err := strconv.ParseInt(n.Interval, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(n.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", n.Interval)
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// GasLaneHash parses the key hash.
func (n Network) GasLaneHash() (common.Hash, error) {
	s := strings.TrimPrefix(n.GasLane, "0x")
	if len(s) != 64 {
		return common.Hash{}, fmt.Errorf("must be 32 bytes of hex")
	}
	return common.HexToHash(n.GasLane), nil
}

// SubscriptionIDValue parses the pre-provisioned subscription id.
func (n Network) SubscriptionIDValue() (uint64, error) {
	if n.SubscriptionID == "" {
		return 0, fmt.Errorf("not configured")
	}
	return strconv.ParseUint(n.SubscriptionID, 10, 64)
}

// CoordinatorAddress returns the configured coordinator address.
func (n Network) CoordinatorAddress() common.Address {
	return common.HexToAddress(n.VRFCoordinator)
}

func mustEther(s string) *big.Int {
	v, err := ethunit.ParseEther(s)
	if err != nil {
		panic(err)
	}
	return v
}
