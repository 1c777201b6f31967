package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// Attestor signs pool results with the operator key so that anyone holding
// the operator address can check a winner was published by this service.
type Attestor struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAttestor returns an attestor for key.
func NewAttestor(key *ecdsa.PrivateKey) *Attestor {
	return &Attestor{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the operator address.
func (a *Attestor) Address() common.Address { return a.address }

// AttestWinner signs a winner_found event.
func (a *Attestor) AttestWinner(ev domain.Event) (string, error) {
	if ev.Type != domain.EventWinnerFound {
		return "", fmt.Errorf("crypto: attest: %s is not a winner event", ev.Type)
	}
	return SignText(a.key, WinnerDigest(ev.Pool, ev.TicketID, ev.Value, ev.Guess))
}

// WinnerDigest is keccak256(pool || ticketID || value || guess), each field
// left-padded to a 32-byte big-endian word. value and guess are never
// negative in a winner event.
func WinnerDigest(pool common.Address, ticketID uint64, value, guess int64) []byte {
	return ethcrypto.Keccak256(
		common.LeftPadBytes(pool.Bytes(), 32),
		word(ticketID),
		word(uint64(value)),
		word(uint64(guess)),
	)
}

// VerifyWinner reports whether sig attests ev on behalf of operator.
func VerifyWinner(ev domain.Event, sig string, operator common.Address) error {
	signer, err := RecoverText(WinnerDigest(ev.Pool, ev.TicketID, ev.Value, ev.Guess), sig)
	if err != nil {
		return err
	}
	if signer != operator {
		return fmt.Errorf("%w: attested by %s, not %s", ErrBadSignature, signer.Hex(), operator.Hex())
	}
	return nil
}

func word(v uint64) []byte {
	b := uint256.NewInt(v).Bytes32()
	return b[:]
}
