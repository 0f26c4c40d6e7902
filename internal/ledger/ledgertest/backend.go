// Package ledgertest provides an in-memory ledger.Backend that ABI-encodes
// responses, for tests that exercise the reader, writer and orchestrator.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/synthex/internal/ledger"
)

// CallFunc answers one view call. args are the decoded inputs; the returned
// values are packed with the method's output types.
type CallFunc func(to common.Address, args []any) ([]any, error)

// SendFunc builds the receipt for a sent transaction. method is the decoded
// method name and args its inputs. Returning nil leaves the tx pending.
type SendFunc func(tx *types.Transaction, method string, args []any) *types.Receipt

// Backend is a scriptable ledger.Backend.
type Backend struct {
	mu sync.Mutex

	Head     uint64
	Chain    *big.Int
	GasPrice *big.Int
	Gas      uint64
	Logs     []types.Log

	calls     map[string]CallFunc
	callCount map[string]int
	onSend    SendFunc
	receipts  map[common.Hash]*types.Receipt
	sent      []*types.Transaction
	filters   []ethereum.FilterQuery
	nonce     uint64
}

// New returns a Backend at head 1000 on chain 31337.
func New() *Backend {
	return &Backend{
		Head:      1000,
		Chain:     big.NewInt(31337),
		GasPrice:  big.NewInt(1_000_000_000),
		Gas:       100_000,
		calls:     make(map[string]CallFunc),
		callCount: make(map[string]int),
		receipts:  make(map[common.Hash]*types.Receipt),
	}
}

// Handle registers fn for every call to method, regardless of target.
func (b *Backend) Handle(method string, fn CallFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[method] = fn
}

// Return registers a handler that always returns vals.
func (b *Backend) Return(method string, vals ...any) {
	b.Handle(method, func(common.Address, []any) ([]any, error) { return vals, nil })
}

// OnSend registers the receipt builder for sent transactions.
func (b *Backend) OnSend(fn SendFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSend = fn
}

// CallCount reports how many times method was called.
func (b *Backend) CallCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callCount[method]
}

// Sent returns the transactions sent so far.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// SentMethods returns the decoded method names of sent transactions.
func (b *Backend) SentMethods() []string {
	var out []string
	for _, tx := range b.Sent() {
		if m, err := ledger.LookupMethod(tx.Data()); err == nil {
			out = append(out, m.Name)
		}
	}
	return out
}

// Filters returns every FilterLogs query received.
func (b *Backend) Filters() []ethereum.FilterQuery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), b.filters...)
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, args, err := decode(msg.Data)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	fn, ok := b.calls[method.Name]
	b.callCount[method.Name]++
	b.mu.Unlock()
	if !ok {
		if len(method.Outputs) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("ledgertest: no handler for %s", method.Name)
	}
	var to common.Address
	if msg.To != nil {
		to = *msg.To
	}
	vals, err := fn(to, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(vals...)
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = append(b.filters, q)

	var out []types.Log
	for _, l := range b.Logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddr(q.Addresses, l.Address) {
			continue
		}
		if !matchTopics(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Head, nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if _, err := b.CallContract(ctx, msg, nil); err != nil {
		return 0, err
	}
	return b.Gas, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	method, args, err := decode(tx.Data())
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.sent = append(b.sent, tx)
	b.nonce++
	b.Head++
	fn := b.onSend
	head := b.Head
	b.mu.Unlock()

	if fn == nil {
		return nil
	}
	receipt := fn(tx, method.Name, args)
	if receipt == nil {
		return nil
	}
	receipt.TxHash = tx.Hash()
	if receipt.BlockNumber == nil {
		receipt.BlockNumber = new(big.Int).SetUint64(head)
	}
	if receipt.GasUsed == 0 {
		receipt.GasUsed = b.Gas
	}
	for _, l := range receipt.Logs {
		l.TxHash = tx.Hash()
		l.BlockNumber = head
	}

	b.mu.Lock()
	b.receipts[tx.Hash()] = receipt
	for _, l := range receipt.Logs {
		b.Logs = append(b.Logs, *l)
	}
	b.mu.Unlock()
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.Chain), nil
}

// RevertErr is an RPC-style error carrying revert data.
type RevertErr struct {
	Data []byte
}

func (e RevertErr) Error() string  { return "execution reverted" }
func (e RevertErr) ErrorData() any { return hexutil.Encode(e.Data) }

// CustomError encodes the engine's custom error name with args as revert
// data.
func CustomError(name string, args ...any) RevertErr {
	e, ok := ledger.EngineABI().Errors[name]
	if !ok {
		panic("ledgertest: unknown error " + name)
	}
	packed, err := e.Inputs.Pack(args...)
	if err != nil {
		panic("ledgertest: pack " + name + ": " + err.Error())
	}
	return RevertErr{Data: append(append([]byte{}, e.ID[:4]...), packed...)}
}

func decode(data []byte) (*abi.Method, []any, error) {
	m, err := ledger.LookupMethod(data)
	if err != nil {
		return nil, nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("ledgertest: unpack %s: %w", m.Name, err)
	}
	return m, args, nil
}

func containsAddr(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alts := range filter {
		if len(alts) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, t := range alts {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
