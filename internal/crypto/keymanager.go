// Package crypto manages the operator key and the secp256k1 signatures used
// for request authentication and result attestation.
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
	// DefaultIterations is the OWASP-recommended minimum for HMAC-SHA256.
	DefaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	currentVersion    = 2
)

// keyFile is the on-disk format of a sealed operator key.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource tells LoadOperatorKey where to find the operator key.
type KeySource struct {
	// RawPrivateKey is hex, with or without 0x. It wins over KeyFilePath.
	RawPrivateKey string

	// KeyFilePath points at a file written by SealKey.
	KeyFilePath string
	Password    string
}

// SealKey encrypts key with password (PBKDF2-HMAC-SHA256 then AES-256-GCM)
// and returns the JSON file contents. iterations <= 0 means
// DefaultIterations.
func SealKey(key *ecdsa.PrivateKey, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := keyFile{
		Version:    currentVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// OpenKey decrypts a file produced by SealKey.
func OpenKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored keyFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt, stored.Iterations)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: key file holds an invalid key: %w", err)
	}
	if stored.Address != "" && !strings.EqualFold(stored.Address, ethcrypto.PubkeyToAddress(key.PublicKey).Hex()) {
		return nil, fmt.Errorf("crypto: key file address %s does not match key", stored.Address)
	}
	return key, nil
}

// LoadOperatorKey resolves the operator key from src.
func LoadOperatorKey(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.RawPrivateKey != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(src.RawPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid operator key: %w", err)
		}
		return key, nil
	}
	if src.KeyFilePath != "" {
		data, err := os.ReadFile(src.KeyFilePath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading key file: %w", err)
		}
		return OpenKey(data, src.Password)
	}
	return nil, errors.New("crypto: no operator key configured (set a raw key or a key file)")
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("crypto: invalid iteration count %d", iterations)
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
