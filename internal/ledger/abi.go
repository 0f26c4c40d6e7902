// Package ledger talks to the venue's contracts: parallel reads of vAMM and
// engine state, event-log scans, and the simulate→sign→submit→confirm write
// pipeline.
package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs
var (
	engineABI   abi.ABI
	vammABI     abi.ABI
	registryABI abi.ABI
	tokenABI    abi.ABI
)

func init() {
	engineABI = mustParse("engine", `[
		{"name": "deposit", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "amount", "type": "uint256"}], "outputs": []},
		{"name": "withdraw", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "amount", "type": "uint256"}], "outputs": []},
		{"name": "openPosition", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [
			{"name": "isLong", "type": "bool"},
			{"name": "totalToUse", "type": "uint256"},
			{"name": "leverage", "type": "uint256"}
		 ], "outputs": [{"name": "positionId", "type": "uint256"}]},
		{"name": "depositAndOpenPosition", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [
			{"name": "amount", "type": "uint256"},
			{"name": "isLong", "type": "bool"},
			{"name": "totalToUse", "type": "uint256"},
			{"name": "leverage", "type": "uint256"}
		 ], "outputs": [{"name": "positionId", "type": "uint256"}]},
		{"name": "depositAndOpenPositionWithPermit", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [
			{"name": "amount", "type": "uint256"},
			{"name": "permitAmount", "type": "uint256"},
			{"name": "isLong", "type": "bool"},
			{"name": "totalToUse", "type": "uint256"},
			{"name": "leverage", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		 ], "outputs": [{"name": "positionId", "type": "uint256"}]},
		{"name": "closePosition", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "positionId", "type": "uint256"}],
		 "outputs": [{"name": "totalPnl", "type": "int256"}]},
		{"name": "getWalletBalance", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "user", "type": "address"}],
		 "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "getFundBalances", "type": "function", "stateMutability": "view",
		 "inputs": [],
		 "outputs": [
			{"name": "trade", "type": "uint256"},
			{"name": "insurance", "type": "uint256"},
			{"name": "protocol", "type": "uint256"}
		 ]},
		{"name": "collateralToken", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "address"}]},

		{"name": "PositionOpened", "type": "event", "anonymous": false,
		 "inputs": [
			{"name": "positionId", "type": "uint256", "indexed": true},
			{"name": "user", "type": "address", "indexed": true},
			{"name": "isLong", "type": "bool", "indexed": false},
			{"name": "baseSize", "type": "uint256", "indexed": false},
			{"name": "entryPrice", "type": "uint256", "indexed": false},
			{"name": "margin", "type": "uint256", "indexed": false}
		 ]},
		{"name": "PositionClosed", "type": "event", "anonymous": false,
		 "inputs": [
			{"name": "positionId", "type": "uint256", "indexed": true},
			{"name": "user", "type": "address", "indexed": true},
			{"name": "totalPnl", "type": "int256", "indexed": false},
			{"name": "exitPrice", "type": "uint256", "indexed": false}
		 ]},
		{"name": "PositionLiquidated", "type": "event", "anonymous": false,
		 "inputs": [
			{"name": "positionId", "type": "uint256", "indexed": true},
			{"name": "user", "type": "address", "indexed": true},
			{"name": "liquidator", "type": "address", "indexed": true},
			{"name": "liquidationPrice", "type": "uint256", "indexed": false}
		 ]},

		{"name": "InsufficientBalance", "type": "error",
		 "inputs": [{"name": "available", "type": "uint256"}, {"name": "required", "type": "uint256"}]},
		{"name": "InvalidLeverage", "type": "error",
		 "inputs": [{"name": "leverage", "type": "uint256"}]},
		{"name": "PositionNotOpen", "type": "error",
		 "inputs": [{"name": "positionId", "type": "uint256"}]},
		{"name": "NotPositionOwner", "type": "error",
		 "inputs": [{"name": "positionId", "type": "uint256"}, {"name": "caller", "type": "address"}]},
		{"name": "InvalidAmount", "type": "error", "inputs": []},
		{"name": "PermitExpired", "type": "error",
		 "inputs": [{"name": "deadline", "type": "uint256"}]},
		{"name": "SlippageExceeded", "type": "error",
		 "inputs": [{"name": "expected", "type": "uint256"}, {"name": "actual", "type": "uint256"}]}
	]`)

	vammABI = mustParse("vamm", `[
		{"name": "markPrice", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "baseReserve", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "quoteReserve", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "longOpenInterest", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "shortOpenInterest", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "simulateOpenLong", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "quoteIn", "type": "uint256"}],
		 "outputs": [{"name": "baseOut", "type": "uint256"}, {"name": "avgPrice", "type": "uint256"}]},
		{"name": "simulateOpenShort", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "quoteOut", "type": "uint256"}],
		 "outputs": [{"name": "baseIn", "type": "uint256"}, {"name": "avgPrice", "type": "uint256"}]},
		{"name": "simulateCloseLong", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "baseIn", "type": "uint256"}],
		 "outputs": [{"name": "quoteOut", "type": "uint256"}, {"name": "avgPrice", "type": "uint256"}]},
		{"name": "simulateCloseShort", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "baseOut", "type": "uint256"}],
		 "outputs": [{"name": "quoteIn", "type": "uint256"}, {"name": "avgPrice", "type": "uint256"}]}
	]`)

	registryABI = mustParse("registry", `[
		{"name": "getPosition", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "positionId", "type": "uint256"}],
		 "outputs": [
			{"name": "id", "type": "uint256"},
			{"name": "user", "type": "address"},
			{"name": "isLong", "type": "bool"},
			{"name": "baseSize", "type": "uint256"},
			{"name": "entryPrice", "type": "uint256"},
			{"name": "entryNotional", "type": "uint256"},
			{"name": "margin", "type": "uint256"},
			{"name": "carrySnapshot", "type": "int256"},
			{"name": "openBlock", "type": "uint256"},
			{"name": "status", "type": "uint8"},
			{"name": "realizedPnl", "type": "int256"}
		 ]}
	]`)

	tokenABI = mustParse("token", `[
		{"name": "balanceOf", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "account", "type": "address"}],
		 "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "allowance", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}],
		 "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "decimals", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint8"}]},
		{"name": "name", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "string"}]},
		{"name": "version", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "string"}]},
		{"name": "nonces", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "owner", "type": "address"}],
		 "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "permit", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		 ], "outputs": []}
	]`)
}

func mustParse(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(name + " abi parse: " + err.Error())
	}
	return parsed
}

// EngineABI, VAMMABI, RegistryABI and TokenABI expose the parsed ABIs to
// callers that encode calldata themselves, such as test backends.
func EngineABI() abi.ABI   { return engineABI }
func VAMMABI() abi.ABI     { return vammABI }
func RegistryABI() abi.ABI { return registryABI }
func TokenABI() abi.ABI    { return tokenABI }

// LookupMethod resolves calldata to the method it invokes across all of the
// venue's ABIs.
func LookupMethod(data []byte) (*abi.Method, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("ledger: calldata too short (%d bytes)", len(data))
	}
	for _, a := range []abi.ABI{engineABI, vammABI, registryABI, tokenABI} {
		if m, err := a.MethodById(data[:4]); err == nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("ledger: unknown selector %x", data[:4])
}
