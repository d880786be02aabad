package raffle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"stake-raffle/internal/models"
)

type claimKey struct {
	stake int
	prize int
}

// ClaimPrize verifies the units account claims and pays them out. The account
// is marked claimed before anything is verified, so it gets exactly one
// attempt per raffle whether or not the claim succeeds.
//
// Payouts are made one prize at a time and are not rolled back: if a transfer
// fails, the payouts already made are returned along with the error.
func (l *Ledger) ClaimPrize(ctx context.Context, raffleID uint64, account common.Address, claims []models.ClaimEntry) ([]models.Payout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.raffle(raffleID)
	if err != nil {
		return nil, err
	}
	if !r.Resolved() {
		return nil, ErrRandomNotReady
	}
	if r.Claimed[account] {
		return nil, ErrAlreadyClaimed
	}

	settings := l.settingsAfter("claim", word(raffleID), account.Bytes())
	if err := l.persist(ctx, models.Mutation{Settings: settings, RaffleID: raffleID, Claimed: &account}); err != nil {
		return nil, err
	}
	r.Claimed[account] = true
	l.commit(settings)

	payouts, err := verifyClaims(r, account, claims)
	if err != nil {
		l.logger.Warn("claim rejected", "raffle_id", raffleID, "account", account.Hex(), "error", err)
		return nil, err
	}

	if l.token != nil {
		for i, p := range payouts {
			if err := l.token.TransferOut(ctx, account, p.Kind, p.ID, p.Amount); err != nil {
				l.logger.Error("prize payout failed", "raffle_id", raffleID, "account", account.Hex(), "paid", i, "of", len(payouts), "error", err)
				return payouts[:i], fmt.Errorf("payout %s/%d: %w", p.Kind.Hex(), p.ID, err)
			}
		}
	}

	l.emit(EventPrizeClaimed, raffleID, account, PrizeClaimedData{Payouts: payouts})
	return payouts, nil
}

// verifyClaims checks every claimed unit against the winning rule and returns
// one payout per entry that names at least one unit.
func verifyClaims(r *raffleState, account common.Address, claims []models.ClaimEntry) ([]models.Payout, error) {
	own := r.byAccount[account]
	seen := make(map[claimKey]struct{}, len(claims))
	payouts := make([]models.Payout, 0, len(claims))
	for _, c := range claims {
		if c.StakeIndex < 0 || c.StakeIndex >= len(own) {
			return nil, ErrInvalidStakeIndex
		}
		stake := r.Stakes[own[c.StakeIndex]]
		item := r.Items[stake.Item]
		if c.PrizeIndex < 0 || c.PrizeIndex >= len(item.Prizes) {
			return nil, ErrInvalidPrizeIndex
		}
		key := claimKey{c.StakeIndex, c.PrizeIndex}
		if _, dup := seen[key]; dup {
			return nil, ErrDuplicateClaim
		}
		seen[key] = struct{}{}

		prize := item.Prizes[c.PrizeIndex]
		for j, u := range c.Units {
			if j > 0 && u <= c.Units[j-1] {
				return nil, ErrUnsortedUnits
			}
			if u >= prize.Value {
				return nil, ErrUnitOutOfRange
			}
			if !stake.Contains(WinningNumber(r.RandomNumber, prize.Kind, prize.ID, u, item.StakeTotal)) {
				return nil, ErrNotAWinner
			}
		}
		if len(c.Units) > 0 {
			payouts = append(payouts, models.Payout{Kind: prize.Kind, ID: prize.ID, Amount: uint64(len(c.Units))})
		}
	}
	return payouts, nil
}
