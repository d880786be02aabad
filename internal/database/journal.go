package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stake-raffle/internal/models"
)

// Apply writes one ledger mutation in a single transaction.
func (s *Store) Apply(ctx context.Context, m models.Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.putSettings(ctx, tx, m.Settings); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if m.Raffle != nil {
		if err := s.insertRaffle(ctx, tx, m.Raffle); err != nil {
			return fmt.Errorf("raffle %d: %w", m.Raffle.ID, err)
		}
	}
	if len(m.Stakes) > 0 {
		if err := s.insertStakes(ctx, tx, m); err != nil {
			return fmt.Errorf("stakes for raffle %d: %w", m.RaffleID, err)
		}
	}
	if m.Request != nil {
		if err := s.insertRequest(ctx, tx, m.Request); err != nil {
			return fmt.Errorf("request %s: %w", m.Request.ID.Hex(), err)
		}
	}
	if m.Random != nil {
		if err := s.setRandom(ctx, tx, m.RaffleID, *m.Random); err != nil {
			return fmt.Errorf("random for raffle %d: %w", m.RaffleID, err)
		}
	}
	if m.Claimed != nil {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO claims (raffle_id, account) VALUES (?, ?)`), i64(m.RaffleID), m.Claimed.Hex())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("claim: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) putSettings(ctx context.Context, tx *sql.Tx, st models.Settings) error {
	query := s.rebind(`
INSERT INTO settings (id, owner, fee_balance, height, entropy)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE
SET owner = excluded.owner,
    fee_balance = excluded.fee_balance,
    height = excluded.height,
    entropy = excluded.entropy`)
	_, err := tx.ExecContext(ctx, query, st.Owner.Hex(), i64(st.FeeBalance), i64(st.Height), st.Entropy.Hex())
	return err
}

func (s *Store) insertRaffle(ctx context.Context, tx *sql.Tx, r *models.Raffle) error {
	_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO raffles (id, end_time, random_number, created_at) VALUES (?, ?, '', ?)`),
		i64(r.ID), r.EndTime.Unix(), r.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	itemQuery := s.rebind(`INSERT INTO raffle_items (raffle_id, idx, kind, token_id, stake_total) VALUES (?, ?, ?, ?, ?)`)
	prizeQuery := s.rebind(`INSERT INTO raffle_prizes (raffle_id, item_idx, idx, kind, token_id, value) VALUES (?, ?, ?, ?, ?, ?)`)
	for i, item := range r.Items {
		if _, err := tx.ExecContext(ctx, itemQuery, i64(r.ID), i, item.Kind.Hex(), i64(item.ID), i64(item.StakeTotal)); err != nil {
			return err
		}
		for j, p := range item.Prizes {
			if _, err := tx.ExecContext(ctx, prizeQuery, i64(r.ID), i, j, p.Kind.Hex(), i64(p.ID), i64(p.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) insertStakes(ctx context.Context, tx *sql.Tx, m models.Mutation) error {
	query := s.rebind(`
INSERT INTO stakes (raffle_id, seq, account, item_idx, range_start, range_end, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, st := range m.Stakes {
		_, err := tx.ExecContext(ctx, query, i64(m.RaffleID), m.StakeSeq+i, st.Account.Hex(), st.Item,
			i64(st.RangeStart), i64(st.RangeEnd), st.CreatedAt.Unix())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
	}
	update := s.rebind(`UPDATE raffle_items SET stake_total = ? WHERE raffle_id = ? AND idx = ?`)
	for idx, total := range m.Totals {
		res, err := tx.ExecContext(ctx, update, i64(total), i64(m.RaffleID), idx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRaffleMissing
		}
	}
	return nil
}

func (s *Store) insertRequest(ctx context.Context, tx *sql.Tx, req *models.RandomnessRequest) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO randomness_requests (request_id, raffle_id, key_hash, seed, nonce, fee, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		req.ID.Hex(), i64(req.RaffleID), req.KeyHash.Hex(), req.Seed.Hex(), i64(req.Nonce), i64(req.Fee), req.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO nonces (key_hash, nonce) VALUES (?, ?)
ON CONFLICT (key_hash) DO UPDATE SET nonce = excluded.nonce`), req.KeyHash.Hex(), i64(req.Nonce+1))
	return err
}

func (s *Store) setRandom(ctx context.Context, tx *sql.Tx, raffleID uint64, value common.Hash) error {
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE raffles SET random_number = ? WHERE id = ? AND random_number = ''`),
		value.Hex(), i64(raffleID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM raffles WHERE id = ?`), i64(raffleID)).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRaffleMissing
		}
		if err != nil {
			return err
		}
		return ErrRaffleResolved
	}
	return nil
}

// LoadSnapshot reads the complete ledger state.
func (s *Store) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{Nonces: make(map[common.Hash]uint64)}

	var owner, entropy string
	var fee, height int64
	err := s.db.QueryRowContext(ctx, `SELECT owner, fee_balance, height, entropy FROM settings WHERE id = 1`).
		Scan(&owner, &fee, &height, &entropy)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("settings: %w", err)
	default:
		snap.Settings = &models.Settings{
			Owner:      common.HexToAddress(owner),
			FeeBalance: u64(fee),
			Height:     u64(height),
			Entropy:    common.HexToHash(entropy),
		}
	}

	raffles, err := s.loadRaffles(ctx)
	if err != nil {
		return nil, fmt.Errorf("raffles: %w", err)
	}
	snap.Raffles = raffles
	byID := make(map[uint64]*models.Raffle, len(raffles))
	for _, r := range raffles {
		byID[r.ID] = r
	}
	if err := s.loadItems(ctx, byID); err != nil {
		return nil, fmt.Errorf("items: %w", err)
	}
	if err := s.loadPrizes(ctx, byID); err != nil {
		return nil, fmt.Errorf("prizes: %w", err)
	}
	if err := s.loadStakes(ctx, byID); err != nil {
		return nil, fmt.Errorf("stakes: %w", err)
	}
	if err := s.loadClaims(ctx, byID); err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}
	if snap.Requests, err = s.loadRequests(ctx); err != nil {
		return nil, fmt.Errorf("requests: %w", err)
	}
	if err := s.loadNonces(ctx, snap.Nonces); err != nil {
		return nil, fmt.Errorf("nonces: %w", err)
	}
	return snap, nil
}

func (s *Store) loadRaffles(ctx context.Context) ([]*models.Raffle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, end_time, random_number, created_at FROM raffles ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raffles []*models.Raffle
	for rows.Next() {
		var id, end, created int64
		var random string
		if err := rows.Scan(&id, &end, &random, &created); err != nil {
			return nil, err
		}
		r := &models.Raffle{
			ID:        u64(id),
			EndTime:   time.Unix(end, 0).UTC(),
			CreatedAt: time.Unix(created, 0).UTC(),
			Claimed:   make(map[common.Address]bool),
		}
		if random != "" {
			r.RandomNumber = common.HexToHash(random)
		}
		raffles = append(raffles, r)
	}
	return raffles, rows.Err()
}

func (s *Store) loadItems(ctx context.Context, byID map[uint64]*models.Raffle) error {
	rows, err := s.db.QueryContext(ctx, `SELECT raffle_id, idx, kind, token_id, stake_total FROM raffle_items ORDER BY raffle_id ASC, idx ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var raffleID, tokenID, total int64
		var idx int
		var kind string
		if err := rows.Scan(&raffleID, &idx, &kind, &tokenID, &total); err != nil {
			return err
		}
		r, ok := byID[u64(raffleID)]
		if !ok || idx != len(r.Items) {
			return fmt.Errorf("item %d of raffle %d out of order", idx, raffleID)
		}
		r.Items = append(r.Items, models.Item{
			Kind:       common.HexToAddress(kind),
			ID:         u64(tokenID),
			StakeTotal: u64(total),
		})
	}
	return rows.Err()
}

func (s *Store) loadPrizes(ctx context.Context, byID map[uint64]*models.Raffle) error {
	rows, err := s.db.QueryContext(ctx, `SELECT raffle_id, item_idx, kind, token_id, value FROM raffle_prizes ORDER BY raffle_id ASC, item_idx ASC, idx ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var raffleID, tokenID, value int64
		var itemIdx int
		var kind string
		if err := rows.Scan(&raffleID, &itemIdx, &kind, &tokenID, &value); err != nil {
			return err
		}
		r, ok := byID[u64(raffleID)]
		if !ok || itemIdx >= len(r.Items) {
			return fmt.Errorf("prize for unknown item %d of raffle %d", itemIdx, raffleID)
		}
		r.Items[itemIdx].Prizes = append(r.Items[itemIdx].Prizes, models.Prize{
			Kind:  common.HexToAddress(kind),
			ID:    u64(tokenID),
			Value: u64(value),
		})
	}
	return rows.Err()
}

func (s *Store) loadStakes(ctx context.Context, byID map[uint64]*models.Raffle) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT raffle_id, seq, account, item_idx, range_start, range_end, created_at
FROM stakes
ORDER BY raffle_id ASC, seq ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var raffleID, start, end, created int64
		var seq, item int
		var account string
		if err := rows.Scan(&raffleID, &seq, &account, &item, &start, &end, &created); err != nil {
			return err
		}
		r, ok := byID[u64(raffleID)]
		if !ok || seq != len(r.Stakes) {
			return fmt.Errorf("stake %d of raffle %d out of order", seq, raffleID)
		}
		r.Stakes = append(r.Stakes, models.Stake{
			Account:    common.HexToAddress(account),
			Item:       item,
			RangeStart: u64(start),
			RangeEnd:   u64(end),
			CreatedAt:  time.Unix(created, 0).UTC(),
		})
	}
	return rows.Err()
}

func (s *Store) loadClaims(ctx context.Context, byID map[uint64]*models.Raffle) error {
	rows, err := s.db.QueryContext(ctx, `SELECT raffle_id, account FROM claims`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var raffleID int64
		var account string
		if err := rows.Scan(&raffleID, &account); err != nil {
			return err
		}
		if r, ok := byID[u64(raffleID)]; ok {
			r.Claimed[common.HexToAddress(account)] = true
		}
	}
	return rows.Err()
}

func (s *Store) loadRequests(ctx context.Context) ([]models.RandomnessRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT request_id, raffle_id, key_hash, seed, nonce, fee, created_at
FROM randomness_requests
ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RandomnessRequest
	for rows.Next() {
		var id, keyHash, seed string
		var raffleID, nonce, fee, created int64
		if err := rows.Scan(&id, &raffleID, &keyHash, &seed, &nonce, &fee, &created); err != nil {
			return nil, err
		}
		out = append(out, models.RandomnessRequest{
			ID:        common.HexToHash(id),
			RaffleID:  u64(raffleID),
			KeyHash:   common.HexToHash(keyHash),
			Seed:      common.HexToHash(seed),
			Nonce:     u64(nonce),
			Fee:       u64(fee),
			CreatedAt: time.Unix(created, 0).UTC(),
		})
	}
	return out, rows.Err()
}

func (s *Store) loadNonces(ctx context.Context, into map[common.Hash]uint64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key_hash, nonce FROM nonces`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var keyHash string
		var nonce int64
		if err := rows.Scan(&keyHash, &nonce); err != nil {
			return err
		}
		into[common.HexToHash(keyHash)] = u64(nonce)
	}
	return rows.Err()
}
