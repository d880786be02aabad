package oracle

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vechain/go-ecvrf"
)

var ErrProofMismatch = errors.New("vrf proof does not match random value")

// Fulfillment is the oracle's answer to one request.
type Fulfillment struct {
	RequestID common.Hash   `json:"requestId"`
	Random    common.Hash   `json:"random"`
	Proof     hexutil.Bytes `json:"proof"`
}

// RequestID identifies the request for seed under keyHash.
func RequestID(keyHash, seed common.Hash) common.Hash {
	return crypto.Keccak256Hash(keyHash[:], seed[:])
}

// KeyHash identifies an oracle key by its compressed public key.
func KeyHash(pub *ecdsa.PublicKey) common.Hash {
	return crypto.Keccak256Hash(crypto.CompressPubkey(pub))
}

func randomFromBeta(beta []byte) common.Hash {
	r := common.BytesToHash(beta)
	for r == (common.Hash{}) {
		r = crypto.Keccak256Hash(r[:])
	}
	return r
}

// Prove computes the VRF output and proof over seed.
func Prove(key *ecdsa.PrivateKey, seed common.Hash) (common.Hash, []byte, error) {
	beta, proof, err := ecvrf.NewSecp256k1Sha256Tai().Prove(key, seed[:])
	if err != nil {
		return common.Hash{}, nil, err
	}
	return randomFromBeta(beta), proof, nil
}

// Verifier checks proofs produced by a known oracle key.
type Verifier struct {
	pub *ecdsa.PublicKey
}

// NewVerifier takes the oracle's compressed public key.
func NewVerifier(compressed []byte) (*Verifier, error) {
	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil {
		return nil, err
	}
	return &Verifier{pub: pub}, nil
}

func (v *Verifier) KeyHash() common.Hash {
	return KeyHash(v.pub)
}

// Verify checks proof over seed and returns the random value it commits to.
func (v *Verifier) Verify(seed common.Hash, proof []byte) (common.Hash, error) {
	beta, err := ecvrf.NewSecp256k1Sha256Tai().Verify(v.pub, seed[:], proof)
	if err != nil {
		return common.Hash{}, err
	}
	return randomFromBeta(beta), nil
}

// Check verifies that random is the value proven for seed.
func (v *Verifier) Check(seed, random common.Hash, proof []byte) error {
	got, err := v.Verify(seed, proof)
	if err != nil {
		return err
	}
	if got != random {
		return ErrProofMismatch
	}
	return nil
}
