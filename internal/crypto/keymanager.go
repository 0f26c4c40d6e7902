// Package crypto holds the trading account's key material: encrypted key
// files, the local digest/transaction signer and the EIP-2612 permit signer.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileVersion = 2
	kdfName        = "pbkdf2-sha256"
	cipherName     = "aes-256-gcm"
	// defaultIterations is the OWASP minimum for PBKDF2-HMAC-SHA256. Files
	// record their own count, so raising it keeps old files readable.
	defaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
)

var (
	// ErrNoKeySource is returned when neither a raw key nor a key file is
	// configured. Read-only sessions treat it as "no signer".
	ErrNoKeySource = errors.New("crypto: no private key source configured (set private_key or encrypted_key_path)")
	// ErrWrongPassword means the key file could not be authenticated.
	ErrWrongPassword = errors.New("crypto: key file decryption failed (wrong password?)")
	// ErrKeyMismatch means the decrypted key does not belong to the address
	// recorded in the key file.
	ErrKeyMismatch = errors.New("crypto: key file address does not match its key")
)

// keyFile is the on-disk format. Address is plaintext so a file can be
// matched to a wallet without its password.
type keyFile struct {
	Version int    `json:"version"`
	Address string `json:"address"`
	KDF     struct {
		Name       string `json:"name"`
		Iterations int    `json:"iterations"`
		Salt       string `json:"salt"`
	} `json:"kdf"`
	Cipher struct {
		Name       string `json:"name"`
		Nonce      string `json:"nonce"`
		Ciphertext string `json:"ciphertext"`
	} `json:"cipher"`
}

// KeyConfig says where the trading key comes from. RawPrivateKey wins when
// both are set.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// SealKey encrypts key under password and returns the key file contents.
func SealKey(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := keyCipher(password, salt, defaultIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	var kf keyFile
	kf.Version = keyFileVersion
	kf.Address = ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	kf.KDF.Name = kdfName
	kf.KDF.Iterations = defaultIterations
	kf.KDF.Salt = base64.StdEncoding.EncodeToString(salt)
	kf.Cipher.Name = cipherName
	kf.Cipher.Nonce = base64.StdEncoding.EncodeToString(nonce)
	// The address is bound as additional data so it cannot be swapped.
	kf.Cipher.Ciphertext = base64.StdEncoding.EncodeToString(
		gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), []byte(kf.Address)))

	return json.MarshalIndent(kf, "", "  ")
}

// OpenKey decrypts a key file produced by SealKey.
func OpenKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	kf, err := parseKeyFile(data)
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(kf.KDF.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: key file salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Cipher.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: key file nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(kf.Cipher.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: key file ciphertext: %w", err)
	}

	gcm, err := keyCipher(password, salt, kf.KDF.Iterations)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(kf.Address))
	if err != nil {
		return nil, ErrWrongPassword
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: key file payload: %w", err)
	}
	if ethcrypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(kf.Address) {
		return nil, ErrKeyMismatch
	}
	return key, nil
}

// KeyFileAddress returns the account a key file belongs to without
// decrypting it.
func KeyFileAddress(data []byte) (common.Address, error) {
	kf, err := parseKeyFile(data)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(kf.Address), nil
}

// WriteKeyFile seals key to path with owner-only permissions. An existing
// file is never overwritten.
func WriteKeyFile(path string, key *ecdsa.PrivateKey, password string) error {
	data, err := SealKey(key, password)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	return f.Close()
}

// ParseHexKey parses a hex private key with or without the 0x prefix.
func ParseHexKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return key, nil
}

// LoadSigner resolves the configured key and wraps it in a LocalSigner.
func LoadSigner(cfg KeyConfig) (*LocalSigner, error) {
	switch {
	case cfg.RawPrivateKey != "":
		key, err := ParseHexKey(cfg.RawPrivateKey)
		if err != nil {
			return nil, err
		}
		return signerFromKey(key), nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		key, err := OpenKey(data, cfg.KeyPassword)
		if err != nil {
			return nil, err
		}
		return signerFromKey(key), nil
	default:
		return nil, ErrNoKeySource
	}
}

func parseKeyFile(data []byte) (keyFile, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return kf, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.KDF.Name != kdfName || kf.Cipher.Name != cipherName {
		return kf, fmt.Errorf("crypto: unsupported key file scheme %s/%s", kf.KDF.Name, kf.Cipher.Name)
	}
	if kf.KDF.Iterations <= 0 || !common.IsHexAddress(kf.Address) {
		return kf, errors.New("crypto: malformed key file")
	}
	return kf, nil
}

func keyCipher(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
