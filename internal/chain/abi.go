package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RaffleABI is the interface of the deployed Raffle contract.
const RaffleABI = `[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[
		{"name":"vrfCoordinatorV2","type":"address"},
		{"name":"entranceFee","type":"uint256"},
		{"name":"gasLane","type":"bytes32"},
		{"name":"subscriptionId","type":"uint64"},
		{"name":"callbackGasLimit","type":"uint32"},
		{"name":"interval","type":"uint256"}]},
	{"type":"function","name":"enterRaffle","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"checkUpkeep","stateMutability":"view","inputs":[{"name":"","type":"bytes"}],
		"outputs":[{"name":"upkeepNeeded","type":"bool"},{"name":"","type":"bytes"}]},
	{"type":"function","name":"performUpkeep","stateMutability":"nonpayable","inputs":[{"name":"","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"getEntranceFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPlayer","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getRecentWinner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getRaffleState","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"getNumberOfPlayers","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getLatestTimeStamp","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getInterval","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getNumWords","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getRequestConfirmations","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"RaffleEnter","anonymous":false,"inputs":[{"name":"player","type":"address","indexed":true}]},
	{"type":"event","name":"RequestedRaffleWinner","anonymous":false,"inputs":[{"name":"requestId","type":"uint256","indexed":true}]},
	{"type":"event","name":"WinnerPicked","anonymous":false,"inputs":[{"name":"winner","type":"address","indexed":true}]},
	{"type":"error","name":"Raffle__NotEnoughETHEntered","inputs":[]},
	{"type":"error","name":"Raffle__TransferFailed","inputs":[]},
	{"type":"error","name":"Raffle__NotOpen","inputs":[]},
	{"type":"error","name":"Raffle__UpKeepNotNeeded","inputs":[
		{"name":"currentBalance","type":"uint256"},
		{"name":"numPlayers","type":"uint256"},
		{"name":"raffleState","type":"uint256"}]}
]`

// ParsedABI is RaffleABI parsed once at package initialization.
var ParsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(RaffleABI))
	if err != nil {
		panic("chain: invalid raffle ABI: " + err.Error())
	}
	return parsed
}

// Event topics.
var (
	TopicRaffleEnter           = ParsedABI.Events["RaffleEnter"].ID
	TopicRequestedRaffleWinner = ParsedABI.Events["RequestedRaffleWinner"].ID
	TopicWinnerPicked          = ParsedABI.Events["WinnerPicked"].ID
)
