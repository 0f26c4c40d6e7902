package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DigestSigner signs 32-byte digests on behalf of one account. Remote wallet
// implementations may return domain.ErrUserRejected when the holder declines.
type DigestSigner interface {
	Address() common.Address
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// TxSigner signs ledger transactions.
type TxSigner interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// LocalSigner holds a secp256k1 key in memory and satisfies both DigestSigner
// and TxSigner.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewLocalSigner creates a LocalSigner from a hex-encoded private key.
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	key, err := ParseHexKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return signerFromKey(key), nil
}

func signerFromKey(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the account derived from the private key.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignDigest returns the 65-byte r || s || v signature wallets produce,
// with v in {27,28}.
func (s *LocalSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(digest) != ethcrypto.DigestLength {
		return nil, fmt.Errorf("crypto/signer: digest is %d bytes, want %d", len(digest), ethcrypto.DigestLength)
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign digest: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTx signs tx for chainID with the newest signer the chain id allows,
// so legacy and EIP-1559 transactions both work.
func (s *LocalSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}
