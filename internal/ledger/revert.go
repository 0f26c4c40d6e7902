package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// panicSelector is the selector of Solidity's Panic(uint256).
var panicSelector = []byte{0x4e, 0x48, 0x7b, 0x71}

// Revert is a decoded revert. Name is the custom error name when the data
// matched one of the engine's errors, "Error" for require-strings and "Panic"
// for assertion failures. Name is empty when the reason is unknown.
type Revert struct {
	Name    string
	Message string
	Args    []any
	Data    []byte
}

// RevertError reports that a call or transaction reverted.
type RevertError struct {
	Revert Revert
	Err    error
}

func (e *RevertError) Error() string {
	if e.Revert.Name != "" {
		return fmt.Sprintf("ledger: execution reverted: %s: %s", e.Revert.Name, e.Revert.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("ledger: execution reverted: %v", e.Err)
	}
	return "ledger: execution reverted"
}

func (e *RevertError) Unwrap() error { return e.Err }

// dataError matches rpc errors that carry revert data.
type dataError interface {
	Error() string
	ErrorData() any
}

// RevertData extracts raw revert bytes from an RPC error chain.
func RevertData(err error) ([]byte, bool) {
	var de dataError
	if !errors.As(err, &de) {
		return nil, false
	}
	switch v := de.ErrorData().(type) {
	case string:
		b, decErr := hexutil.Decode(v)
		if decErr != nil {
			return nil, false
		}
		return b, true
	case []byte:
		return v, true
	}
	return nil, false
}

// DecodeRevert turns revert data into a Revert. Unknown selectors keep the
// raw bytes and an empty Name.
func DecodeRevert(data []byte) Revert {
	out := Revert{Data: data}
	if len(data) < 4 {
		return out
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		out.Name = "Error"
		out.Message = reason
		return out
	}
	if bytes.Equal(data[:4], panicSelector) && len(data) >= 36 {
		code := new(big.Int).SetBytes(data[4:36])
		out.Name = "Panic"
		out.Message = fmt.Sprintf("panic code 0x%x", code)
		return out
	}
	for name, e := range engineABI.Errors {
		if !bytes.Equal(e.ID[:4], data[:4]) {
			continue
		}
		out.Name = name
		out.Message = name
		if vals, err := e.Inputs.Unpack(data[4:]); err == nil {
			out.Args = vals
			out.Message = formatErrorArgs(name, e.Inputs, vals)
		}
		return out
	}
	return out
}

// AsRevert converts err into a *RevertError when it carries revert data or a
// recognisable "execution reverted" message.
func AsRevert(err error) (*RevertError, bool) {
	if err == nil {
		return nil, false
	}
	var re *RevertError
	if errors.As(err, &re) {
		return re, true
	}
	if data, ok := RevertData(err); ok {
		return &RevertError{Revert: DecodeRevert(data), Err: err}, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return &RevertError{Revert: Revert{Message: revertMessage(err.Error())}, Err: err}, true
	}
	return nil, false
}

// revertMessage trims the "execution reverted: " prefix nodes put in front of
// require-strings.
func revertMessage(msg string) string {
	if _, after, ok := strings.Cut(msg, "execution reverted: "); ok {
		return after
	}
	return msg
}

func formatErrorArgs(name string, inputs abi.Arguments, vals []any) string {
	if len(vals) == 0 {
		return name
	}
	parts := make([]string, 0, len(vals))
	for i, v := range vals {
		parts = append(parts, fmt.Sprintf("%s=%v", inputs[i].Name, v))
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
