package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrBadSignature = errors.New("signature does not match address")

// ChallengeMessage is the text a wallet signs to log in.
func ChallengeMessage(address common.Address, nonce string) string {
	return fmt.Sprintf("stake-raffle login\naddress: %s\nnonce: %s", address.Hex(), nonce)
}

// RecoverAddress returns the signer of a personal_sign (EIP-191) message.
// Both 0/1 and 27/28 recovery ids are accepted.
func RecoverAddress(message string, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that address signed message.
func VerifySignature(address common.Address, message string, sig []byte) error {
	got, err := RecoverAddress(message, sig)
	if err != nil {
		return err
	}
	if got != address {
		return ErrBadSignature
	}
	return nil
}

// Sign produces a personal_sign signature with a 27/28 recovery id.
func Sign(message string, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
