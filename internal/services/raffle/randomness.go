package raffle

import (
	"bytes"
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"stake-raffle/internal/models"
)

func word(v uint64) []byte {
	b := uint256.NewInt(v).Bytes32()
	return b[:]
}

// checkResolvable applies the guards shared by both resolution paths.
func (l *Ledger) checkResolvable(raffleID uint64) (*raffleState, error) {
	r, err := l.raffle(raffleID)
	if err != nil {
		return nil, err
	}
	if !l.now().After(r.EndTime) {
		return nil, ErrNotExpired
	}
	if r.Resolved() {
		return nil, ErrAlreadyResolved
	}
	return r, nil
}

// ResolveDirect sets the random number of an expired raffle from the ledger's
// own context: time, height, entropy, caller and raffle id. It is weaker than
// the oracle path since whoever submits the call can predict the result.
func (l *Ledger) ResolveDirect(ctx context.Context, raffleID uint64, caller common.Address) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.checkResolvable(raffleID)
	if err != nil {
		return common.Hash{}, err
	}
	value := crypto.Keccak256Hash(
		word(uint64(l.now().Unix())),
		word(l.height),
		l.entropy[:],
		caller.Bytes(),
		word(raffleID),
	)
	for value == (common.Hash{}) {
		value = crypto.Keccak256Hash(value[:])
	}

	settings := l.settingsAfter("resolve", word(raffleID), caller.Bytes())
	if err := l.persist(ctx, models.Mutation{Settings: settings, RaffleID: raffleID, Random: &value}); err != nil {
		return common.Hash{}, err
	}
	r.RandomNumber = value
	l.commit(settings)

	l.emit(EventRandomnessResolved, raffleID, caller, RandomnessResolvedData{RandomNumber: value})
	return value, nil
}

// MakeInputSeed derives the seed sent to the oracle. The per-key nonce keeps
// it unique even when the same user seed is submitted twice.
func MakeInputSeed(keyHash, userSeed common.Hash, gateway common.Address, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(keyHash[:], userSeed[:], common.LeftPadBytes(gateway.Bytes(), 32), word(nonce))
}

// RequestRandomness asks the oracle for the random number of an expired
// raffle. The value arrives later through FulfillRandomness.
func (l *Ledger) RequestRandomness(ctx context.Context, raffleID uint64, caller common.Address, seed common.Hash) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.oracle == nil {
		return common.Hash{}, ErrOracleNotConfigured
	}
	if _, err := l.checkResolvable(raffleID); err != nil {
		return common.Hash{}, err
	}
	if l.feeBalance < l.fee {
		return common.Hash{}, ErrInsufficientFee
	}

	now := l.now()
	userSeed := crypto.Keccak256Hash(seed[:], l.entropy[:], word(uint64(now.Unix())))
	nonce := l.nonces[l.keyHash]
	inputSeed := MakeInputSeed(l.keyHash, userSeed, l.gateway, nonce)

	requestID, err := l.oracle.SubmitRequest(ctx, l.keyHash, l.fee, inputSeed)
	if err != nil {
		return common.Hash{}, err
	}

	req := models.RandomnessRequest{
		ID:        requestID,
		RaffleID:  raffleID,
		KeyHash:   l.keyHash,
		Seed:      inputSeed,
		Nonce:     nonce,
		Fee:       l.fee,
		CreatedAt: unixTime(now),
	}
	settings := l.settingsAfter("request", word(raffleID), requestID[:])
	settings.FeeBalance -= l.fee
	if err := l.persist(ctx, models.Mutation{Settings: settings, RaffleID: raffleID, Request: &req}); err != nil {
		l.logger.Error("randomness request submitted but not recorded", "raffle_id", raffleID, "request_id", requestID.Hex(), "error", err)
		return common.Hash{}, err
	}
	l.nonces[l.keyHash] = nonce + 1
	l.requests[requestID] = req
	l.raffles[raffleID].requested = true
	l.commit(settings)

	l.emit(EventRandomnessRequested, raffleID, caller, RandomnessRequestedData{RequestID: requestID, Seed: inputSeed, Fee: l.fee})
	return requestID, nil
}

// FulfillRandomness stores the oracle's answer to a request. Only the
// registered oracle address may call it, and only the first answer for a
// raffle is kept.
func (l *Ledger) FulfillRandomness(ctx context.Context, caller common.Address, requestID, value common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.oracleAddr == (common.Address{}) || caller != l.oracleAddr {
		return ErrNotOracle
	}
	req, ok := l.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	r, err := l.raffle(req.RaffleID)
	if err != nil {
		return err
	}
	if r.Resolved() {
		return ErrAlreadyResolved
	}
	if value == (common.Hash{}) {
		return ErrZeroRandom
	}

	settings := l.settingsAfter("fulfill", requestID[:])
	if err := l.persist(ctx, models.Mutation{Settings: settings, RaffleID: req.RaffleID, Random: &value}); err != nil {
		return err
	}
	r.RandomNumber = value
	l.commit(settings)

	l.emit(EventRandomnessResolved, req.RaffleID, caller, RandomnessResolvedData{RequestID: requestID, RandomNumber: value})
	return nil
}

// Request returns a recorded randomness request.
func (l *Ledger) Request(requestID common.Hash) (models.RandomnessRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	req, ok := l.requests[requestID]
	if !ok {
		return models.RandomnessRequest{}, ErrRequestNotFound
	}
	return req, nil
}

// Nonce is the next nonce that will be used for keyHash.
func (l *Ledger) Nonce(keyHash common.Hash) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonces[keyHash]
}

// OutstandingRequests lists recorded requests whose raffle still has no random
// number, oldest first. They are what an oracle owes the ledger, for example
// after a restart dropped its queue.
func (l *Ledger) OutstandingRequests() []models.RandomnessRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.RandomnessRequest
	for _, req := range l.requests {
		if r := l.raffles[req.RaffleID]; r == nil || r.Resolved() {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Nonce != out[j].Nonce {
			return out[i].Nonce < out[j].Nonce
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}
