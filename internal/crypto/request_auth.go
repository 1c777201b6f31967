package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RequestMessage is the text a client signs to authenticate an API call:
//
//	METHOD|/path|unix-seconds|hex(sha256(body))
func RequestMessage(method, path string, ts int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(ts, 10),
		hex.EncodeToString(sum[:]),
	}, "|"))
}

// SignRequest produces the X-Signature value for a request made at ts.
func SignRequest(key *ecdsa.PrivateKey, method, path string, ts int64, body []byte) (string, error) {
	return SignText(key, RequestMessage(method, path, ts, body))
}

// VerifyRequest checks that sig was produced by account over the request and
// that ts lies within skew of now.
func VerifyRequest(account common.Address, sig, method, path string, ts int64, body []byte, now time.Time, skew time.Duration) error {
	at := time.Unix(ts, 0)
	if d := now.Sub(at); d > skew || d < -skew {
		return fmt.Errorf("%w: timestamp %d outside %s window", ErrBadSignature, ts, skew)
	}
	signer, err := RecoverText(RequestMessage(method, path, ts, body), sig)
	if err != nil {
		return err
	}
	if signer != account {
		return fmt.Errorf("%w: signed by %s, not %s", ErrBadSignature, signer.Hex(), account.Hex())
	}
	return nil
}

// RequestDigest identifies one signed request by its signer and message. It
// is the replay key: malleated signatures over the same message collide.
func RequestDigest(account common.Address, method, path string, ts int64, body []byte) common.Hash {
	return ethcrypto.Keccak256Hash(account.Bytes(), RequestMessage(method, path, ts, body))
}
