package crypto

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/synthex/internal/domain"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	permitDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)
	permitTypeHash = ethcrypto.Keccak256(
		[]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"),
	)
)

// MaxPermitValue is the largest uint256, used as the "practical max" approval
// outside production.
var MaxPermitValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PermitRequest carries everything that goes into an EIP-2612 permit. Nonce
// must be read from the token immediately before calling Sign.
type PermitRequest struct {
	TokenName    string
	TokenVersion string
	Token        common.Address
	ChainID      *big.Int
	Spender      common.Address
	Value        *big.Int
	Nonce        *big.Int
	Deadline     *big.Int
}

// PermitSigner builds and signs EIP-2612 typed data through a DigestSigner.
type PermitSigner struct {
	signer DigestSigner
}

// NewPermitSigner wraps signer.
func NewPermitSigner(signer DigestSigner) *PermitSigner {
	return &PermitSigner{signer: signer}
}

// Owner is the account whose tokens the permit approves.
func (p *PermitSigner) Owner() common.Address {
	return p.signer.Address()
}

// Digest returns the EIP-712 digest for req, owned by the wrapped signer.
func (p *PermitSigner) Digest(req PermitRequest) ([]byte, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return eip712Hash(permitDomainSeparator(req), permitStructHash(p.Owner(), req)), nil
}

// Sign produces a PermitSignature for req. A rejection from the wrapped
// signer is returned wrapped around domain.ErrUserRejected untouched so the
// caller can map it to a cancelled outcome.
func (p *PermitSigner) Sign(ctx context.Context, req PermitRequest) (domain.PermitSignature, error) {
	digest, err := p.Digest(req)
	if err != nil {
		return domain.PermitSignature{}, err
	}

	sig, err := p.signer.SignDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, domain.ErrUserRejected) {
			return domain.PermitSignature{}, err
		}
		return domain.PermitSignature{}, fmt.Errorf("crypto/permit: %w: %w", domain.ErrSigningFailed, err)
	}
	if len(sig) != 65 {
		return domain.PermitSignature{}, fmt.Errorf("crypto/permit: %w: signature is %d bytes", domain.ErrSigningFailed, len(sig))
	}

	out := domain.PermitSignature{
		Token:    req.Token,
		Owner:    p.Owner(),
		Spender:  req.Spender,
		Value:    new(big.Int).Set(req.Value),
		Nonce:    new(big.Int).Set(req.Nonce),
		Deadline: new(big.Int).Set(req.Deadline),
		ChainID:  new(big.Int).Set(req.ChainID),
		V:        sig[64],
	}
	if out.V < 27 {
		out.V += 27
	}
	copy(out.R[:], sig[:32])
	copy(out.S[:], sig[32:64])
	return out, nil
}

// RecoverPermitSigner returns the address that produced sig over req's
// digest. Used to check a signature before it is submitted.
func RecoverPermitSigner(owner common.Address, req PermitRequest, sig domain.PermitSignature) (common.Address, error) {
	if err := req.validate(); err != nil {
		return common.Address{}, err
	}
	digest := eip712Hash(permitDomainSeparator(req), permitStructHash(owner, req))
	raw := append(append(append(make([]byte, 0, 65), sig.R[:]...), sig.S[:]...), sig.V-27)
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/permit: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func (r PermitRequest) validate() error {
	switch {
	case r.TokenName == "":
		return errors.New("crypto/permit: token name is required")
	case r.ChainID == nil || r.ChainID.Sign() <= 0:
		return errors.New("crypto/permit: chain id is required")
	case r.Value == nil || r.Value.Sign() < 0:
		return errors.New("crypto/permit: value must be non-negative")
	case r.Nonce == nil:
		return errors.New("crypto/permit: nonce is required")
	case r.Deadline == nil || r.Deadline.Sign() <= 0:
		return errors.New("crypto/permit: deadline is required")
	}
	return nil
}

// permitDomainSeparator returns keccak256(abi.encode(typeHash, nameHash,
// versionHash, chainId, verifyingContract)).
func permitDomainSeparator(r PermitRequest) []byte {
	version := r.TokenVersion
	if version == "" {
		version = "1"
	}
	return ethcrypto.Keccak256(
		permitDomainTypeHash,
		ethcrypto.Keccak256([]byte(r.TokenName)),
		ethcrypto.Keccak256([]byte(version)),
		word(r.ChainID),
		common.LeftPadBytes(r.Token.Bytes(), 32),
	)
}

func permitStructHash(owner common.Address, r PermitRequest) []byte {
	return ethcrypto.Keccak256(
		permitTypeHash,
		common.LeftPadBytes(owner.Bytes(), 32),
		common.LeftPadBytes(r.Spender.Bytes(), 32),
		word(r.Value),
		word(r.Nonce),
		word(r.Deadline),
	)
}

// eip712Hash is keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// word ABI-encodes a uint256. validate rejects negative values first.
func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
