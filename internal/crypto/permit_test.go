package crypto

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testRequest() PermitRequest {
	return PermitRequest{
		TokenName:    "USD Coin",
		TokenVersion: "2",
		Token:        common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		ChainID:      big.NewInt(11155111),
		Spender:      common.HexToAddress("0x00000000000000000000000000000000000000e1"),
		Value:        big.NewInt(50_000_000),
		Nonce:        big.NewInt(3),
		Deadline:     big.NewInt(1_900_000_000),
	}
}

func TestPermitDigestMatchesTypedData(t *testing.T) {
	signer, err := NewLocalSigner(testKey)
	require.NoError(t, err)
	ps := NewPermitSigner(signer)
	req := testRequest()

	got, err := ps.Digest(req)
	require.NoError(t, err)

	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              req.TokenName,
			Version:           req.TokenVersion,
			ChainId:           math.NewHexOrDecimal256(req.ChainID.Int64()),
			VerifyingContract: req.Token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    signer.Address().Hex(),
			"spender":  req.Spender.Hex(),
			"value":    req.Value.String(),
			"nonce":    req.Nonce.String(),
			"deadline": req.Deadline.String(),
		},
	}
	want, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPermitSignRecoversOwner(t *testing.T) {
	signer, err := NewLocalSigner("0x" + testKey)
	require.NoError(t, err)
	ps := NewPermitSigner(signer)
	req := testRequest()

	sig, err := ps.Sign(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, []uint8{27, 28}, sig.V)
	assert.Equal(t, signer.Address(), sig.Owner)
	assert.Equal(t, req.Spender, sig.Spender)
	assert.Equal(t, 0, sig.Nonce.Cmp(req.Nonce))

	recovered, err := RecoverPermitSigner(signer.Address(), req, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestPermitDefaultVersion(t *testing.T) {
	signer, err := NewLocalSigner(testKey)
	require.NoError(t, err)
	ps := NewPermitSigner(signer)

	explicit := testRequest()
	explicit.TokenVersion = "1"
	implicit := testRequest()
	implicit.TokenVersion = ""

	a, err := ps.Digest(explicit)
	require.NoError(t, err)
	b, err := ps.Digest(implicit)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPermitNonceChangesDigest(t *testing.T) {
	signer, err := NewLocalSigner(testKey)
	require.NoError(t, err)
	ps := NewPermitSigner(signer)

	req := testRequest()
	a, err := ps.Digest(req)
	require.NoError(t, err)
	req.Nonce = big.NewInt(4)
	b, err := ps.Digest(req)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPermitValidation(t *testing.T) {
	signer, err := NewLocalSigner(testKey)
	require.NoError(t, err)
	ps := NewPermitSigner(signer)

	req := testRequest()
	req.Nonce = nil
	_, err = ps.Sign(context.Background(), req)
	assert.Error(t, err)

	req = testRequest()
	req.TokenName = ""
	_, err = ps.Sign(context.Background(), req)
	assert.Error(t, err)
}

type rejectingSigner struct{ addr common.Address }

func (r rejectingSigner) Address() common.Address { return r.addr }
func (r rejectingSigner) SignDigest(context.Context, []byte) ([]byte, error) {
	return nil, domain.ErrUserRejected
}

type brokenSigner struct{ rejectingSigner }

func (brokenSigner) SignDigest(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("device unplugged")
}

func TestPermitSignerErrors(t *testing.T) {
	ps := NewPermitSigner(rejectingSigner{addr: common.HexToAddress("0x01")})
	_, err := ps.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, domain.ErrUserRejected)

	ps = NewPermitSigner(brokenSigner{})
	_, err = ps.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
	assert.NotErrorIs(t, err, domain.ErrUserRejected)
}

func TestMaxPermitValue(t *testing.T) {
	assert.Equal(t, 256, MaxPermitValue.BitLen())
	assert.Len(t, word(MaxPermitValue), 32)
}
