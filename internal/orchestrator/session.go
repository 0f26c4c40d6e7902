package orchestrator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/synthex/internal/crypto"
	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
)

// Submitter sends calldata through the simulate→sign→submit→confirm
// pipeline. *ledger.Writer satisfies it.
type Submitter interface {
	Account() common.Address
	Submit(ctx context.Context, to common.Address, data []byte, label string) (ledger.Outcome, error)
}

// PermitSigner signs EIP-2612 permits. *crypto.PermitSigner satisfies it.
type PermitSigner interface {
	Sign(ctx context.Context, req crypto.PermitRequest) (domain.PermitSignature, error)
}

// Session is one connected account. A session without a writer is read-only:
// views work, trades fail with NO_SIGNER.
type Session struct {
	User   common.Address
	writer Submitter
	permit PermitSigner
}

// NewSession binds a signing writer and its permit signer. The session's user
// is the writer's account.
func NewSession(writer Submitter, permit PermitSigner) *Session {
	s := &Session{writer: writer, permit: permit}
	if writer != nil {
		s.User = writer.Account()
	}
	return s
}

// ReadOnlySession observes user without being able to trade.
func ReadOnlySession(user common.Address) *Session {
	return &Session{User: user}
}

// CanSign reports whether the session can submit transactions.
func (s *Session) CanSign() bool {
	return s != nil && s.writer != nil && s.User != (common.Address{})
}
