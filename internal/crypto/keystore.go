// Package crypto loads the trading account's private key, either raw from
// the environment or from a passphrase-sealed key file, and signs
// transactions with it.
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

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	saltSize      = 16
	sealedKeyLen  = 32
	sealVersion   = 1
)

// ErrNoKey is returned when neither a raw key nor a key file is configured.
var ErrNoKey = errors.New("crypto: no key configured")

// sealedKey is the key file layout.
type sealedKey struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the account key comes from. Hex wins over File.
type KeySource struct {
	Hex        string
	File       string
	Passphrase string
}

// Configured reports whether any key source is set.
func (s KeySource) Configured() bool {
	return s.Hex != "" || s.File != ""
}

// Load resolves the private key.
func (s KeySource) Load() (*ecdsa.PrivateKey, error) {
	switch {
	case s.Hex != "":
		return ParseKey(s.Hex)
	case s.File != "":
		blob, err := os.ReadFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return OpenKey(blob, s.Passphrase)
	default:
		return nil, ErrNoKey
	}
}

// ParseKey decodes a hex secp256k1 key, with or without 0x.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse key: %w", err)
	}
	return key, nil
}

// SealKey encrypts key under passphrase (PBKDF2-SHA256 then AES-256-GCM) and
// returns the key file contents.
func SealKey(key *ecdsa.PrivateKey, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: empty passphrase")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	plain := ethcrypto.FromECDSA(key)
	out := sealedKey{
		Version:    sealVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// OpenKey reverses SealKey. The recorded address must match the decrypted key.
func OpenKey(blob []byte, passphrase string) (*ecdsa.PrivateKey, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: empty passphrase")
	}
	var sk sealedKey
	if err := json.Unmarshal(blob, &sk); err != nil {
		return nil, fmt.Errorf("crypto: key file: %w", err)
	}
	if sk.Version != sealVersion {
		return nil, fmt.Errorf("crypto: key file version %d not supported", sk.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(sk.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sk.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sk.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: wrong passphrase or corrupt key file: %w", err)
	}
	if len(plain) != sealedKeyLen {
		return nil, fmt.Errorf("crypto: sealed key has %d bytes", len(plain))
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: sealed key: %w", err)
	}
	if sk.Address != "" && !strings.EqualFold(sk.Address, ethcrypto.PubkeyToAddress(key.PublicKey).Hex()) {
		return nil, errors.New("crypto: key file address does not match key")
	}
	return key, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
