package raffle

import (
	"context"
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stake-raffle/internal/models"
)

// CreateRaffle registers a raffle ending at endTime with the given prize
// schedule. Stake totals in items are ignored.
func (l *Ledger) CreateRaffle(ctx context.Context, caller common.Address, endTime time.Time, items []models.Item) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return 0, ErrNotOwner
	}
	now := l.now()
	if endTime.Before(now.Add(l.minDuration)) {
		return 0, ErrInvalidEndTime
	}
	if err := validateSchedule(items); err != nil {
		return 0, err
	}

	id := uint64(len(l.raffles))
	r := &models.Raffle{
		ID:        id,
		EndTime:   unixTime(endTime),
		Items:     cloneItems(items),
		Claimed:   make(map[common.Address]bool),
		CreatedAt: unixTime(now),
	}
	for i := range r.Items {
		r.Items[i].StakeTotal = 0
	}

	settings := l.settingsAfter("create", RaffleContext(id))
	if err := l.persist(ctx, models.Mutation{Settings: settings, Raffle: r, RaffleID: id}); err != nil {
		return 0, err
	}
	l.raffles = append(l.raffles, newRaffleState(r))
	l.endTimes.Store(id, r.EndTime)
	l.commit(settings)

	l.emit(EventRaffleCreated, id, caller, RaffleCreatedData{EndTime: r.EndTime, Items: cloneItems(r.Items)})
	return id, nil
}

func validateSchedule(items []models.Item) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	seen := make(map[itemKey]struct{}, len(items))
	for _, item := range items {
		if item.Kind == (common.Address{}) {
			return ErrZeroAddress
		}
		key := itemKey{item.Kind, item.ID}
		if _, ok := seen[key]; ok {
			return ErrDuplicateItem
		}
		seen[key] = struct{}{}
		if len(item.Prizes) == 0 {
			return ErrNoPrizes
		}
		for _, p := range item.Prizes {
			if p.Kind == (common.Address{}) {
				return ErrZeroAddress
			}
			if p.Value == 0 {
				return ErrZeroPrizeValue
			}
		}
	}
	return nil
}

func (l *Ledger) ListRaffles() []models.RaffleSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.RaffleSummary, 0, len(l.raffles))
	for _, r := range l.raffles {
		out = append(out, models.RaffleSummary{ID: r.ID, EndTime: r.EndTime})
	}
	return out
}

// OpenRaffles lists raffles whose end time is still ahead.
func (l *Ledger) OpenRaffles() []models.RaffleSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now()
	var out []models.RaffleSummary
	for _, r := range l.raffles {
		if r.EndTime.After(now) {
			out = append(out, models.RaffleSummary{ID: r.ID, EndTime: r.EndTime})
		}
	}
	return out
}

func (l *Ledger) RaffleInfo(id uint64) (*models.RaffleInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, err := l.raffle(id)
	if err != nil {
		return nil, err
	}
	return &models.RaffleInfo{
		ID:           r.ID,
		EndTime:      r.EndTime,
		Items:        cloneItems(r.Items),
		Resolved:     r.Resolved(),
		RandomNumber: r.RandomNumber,
		Stakers:      len(r.Stakers),
	}, nil
}

// PendingResolution lists expired raffles that have no random number and no
// outstanding oracle request.
func (l *Ledger) PendingResolution() []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now()
	var out []uint64
	for _, r := range l.raffles {
		if r.Resolved() || r.requested || now.Before(r.EndTime) || now.Equal(r.EndTime) {
			continue
		}
		out = append(out, r.ID)
	}
	return out
}

func (l *Ledger) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	settings := l.settingsAfter("owner", newOwner.Bytes())
	settings.Owner = newOwner
	if err := l.persist(ctx, models.Mutation{Settings: settings}); err != nil {
		return err
	}
	previous := l.owner
	l.commit(settings)
	l.emit(EventOwnershipTransferred, 0, newOwner, OwnershipTransferredData{Previous: previous, Owner: newOwner})
	return nil
}

// FundOracle adds amount to the balance that pays oracle request fees and
// returns the new balance.
func (l *Ledger) FundOracle(ctx context.Context, caller common.Address, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return 0, ErrNotOwner
	}
	if amount == 0 {
		return 0, ErrZeroFunding
	}
	balance, carry := bits.Add64(l.feeBalance, amount, 0)
	if carry != 0 {
		return 0, ErrFeeOverflow
	}
	settings := l.settingsAfter("fund")
	settings.FeeBalance = balance
	if err := l.persist(ctx, models.Mutation{Settings: settings}); err != nil {
		return 0, err
	}
	l.commit(settings)
	l.emit(EventOracleFunded, 0, caller, OracleFundedData{Amount: amount, Balance: balance})
	return balance, nil
}
