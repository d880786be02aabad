package raffle

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"

	"stake-raffle/internal/models"
)

// Stake deposits every entry into custody and reserves the next range of the
// matching raffle item for account. Either all entries are staked or none.
func (l *Ledger) Stake(ctx context.Context, raffleID uint64, account common.Address, entries []models.StakeEntry) ([]models.Stake, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.raffle(raffleID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if !now.Before(r.EndTime) {
		return nil, ErrExpired
	}
	if len(entries) == 0 {
		return nil, ErrEmptyStake
	}
	if account == (common.Address{}) {
		return nil, ErrZeroAddress
	}

	totals := make(map[int]uint64)
	stakes := make([]models.Stake, 0, len(entries))
	for _, e := range entries {
		if e.Amount == 0 {
			return nil, ErrZeroValue
		}
		idx, ok := r.item(e.Kind, e.ID)
		if !ok {
			return nil, ErrUnknownItem
		}
		start, seen := totals[idx]
		if !seen {
			start = r.Items[idx].StakeTotal
		}
		end, carry := bits.Add64(start, e.Amount, 0)
		if carry != 0 {
			return nil, ErrStakeOverflow
		}
		totals[idx] = end
		stakes = append(stakes, models.Stake{
			Account:    account,
			Item:       idx,
			RangeStart: start,
			RangeEnd:   end,
			CreatedAt:  unixTime(now),
		})
	}

	if l.token != nil {
		data := RaffleContext(raffleID)
		for i, e := range entries {
			if err := l.token.TransferIn(ctx, account, l.custody, e.Kind, e.ID, e.Amount, data); err != nil {
				l.refund(ctx, account, entries[:i])
				return nil, fmt.Errorf("deposit %s/%d: %w", e.Kind.Hex(), e.ID, err)
			}
		}
	}

	settings := l.settingsAfter("stake", RaffleContext(raffleID), account.Bytes())
	m := models.Mutation{
		Settings: settings,
		RaffleID: raffleID,
		Stakes:   stakes,
		StakeSeq: len(r.Stakes),
		Totals:   totals,
	}
	if err := l.persist(ctx, m); err != nil {
		l.refund(ctx, account, entries)
		return nil, err
	}

	ranges := make([]StakeRange, 0, len(stakes))
	for _, s := range stakes {
		r.appendStake(s)
		item := r.Items[s.Item]
		ranges = append(ranges, StakeRange{Kind: item.Kind, ID: item.ID, RangeStart: s.RangeStart, RangeEnd: s.RangeEnd})
	}
	l.commit(settings)

	l.emit(EventStaked, raffleID, account, StakedData{Stakes: ranges})
	return stakes, nil
}

// refund returns deposits that were taken before a stake call failed.
func (l *Ledger) refund(ctx context.Context, account common.Address, entries []models.StakeEntry) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range entries {
		if err := l.token.TransferOut(ctx, account, e.Kind, e.ID, e.Amount); err != nil {
			l.logger.Error("stake refund failed", "account", account.Hex(), "kind", e.Kind.Hex(), "id", e.ID, "amount", e.Amount, "error", err)
		}
	}
}

// StakerStats returns the stakes account holds in a raffle, in the order they
// were made, along with every item's current stake total.
func (l *Ledger) StakerStats(raffleID uint64, account common.Address) (*models.StakerStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, err := l.raffle(raffleID)
	if err != nil {
		return nil, err
	}
	stats := &models.StakerStats{
		RaffleID: raffleID,
		Account:  account,
		Stakes:   make([]models.Stake, 0, len(r.byAccount[account])),
		Totals:   make([]uint64, len(r.Items)),
		Claimed:  r.Claimed[account],
	}
	for _, idx := range r.byAccount[account] {
		stats.Stakes = append(stats.Stakes, r.Stakes[idx])
	}
	for i, item := range r.Items {
		stats.Totals[i] = item.StakeTotal
	}
	return stats, nil
}

// StakeStats reports each item's stake total and how many distinct accounts
// hold a stake in it.
func (l *Ledger) StakeStats(raffleID uint64) (*models.StakeStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, err := l.raffle(raffleID)
	if err != nil {
		return nil, err
	}
	stats := &models.StakeStats{
		RaffleID: raffleID,
		Stakers:  len(r.Stakers),
		Items:    make([]models.ItemStats, len(r.Items)),
	}
	for i, item := range r.Items {
		stats.Items[i] = models.ItemStats{Kind: item.Kind, ID: item.ID, StakeTotal: item.StakeTotal}
	}
	for _, account := range r.Stakers {
		held := make([]bool, len(r.Items))
		for _, idx := range r.byAccount[account] {
			held[r.Stakes[idx].Item] = true
		}
		for i, ok := range held {
			if ok {
				stats.Items[i].Stakers++
			}
		}
	}
	return stats, nil
}
