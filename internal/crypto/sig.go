package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned for malformed or non-recoverable signatures.
var ErrBadSignature = errors.New("crypto: bad signature")

// SignText signs msg with the personal-message prefix and returns the 65-byte
// signature as 0x-hex with v in {27,28}, the form wallets produce.
func SignText(key *ecdsa.PrivateKey, msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return "", fmt.Errorf("crypto: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverText returns the address that produced sig over msg with SignText
// or a wallet's personal_sign.
func RecoverText(msg []byte, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(raw) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrBadSignature, ethcrypto.SignatureLength, len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	if raw[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", ErrBadSignature, raw[64])
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
