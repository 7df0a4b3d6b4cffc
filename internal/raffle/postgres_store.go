package raffle

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
)

// PostgresStore persists the raffle in PostgreSQL. The snapshot is a single
// row; draws are append-only.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed raffle store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var (
		s            Snapshot
		state        int16
		players      []string
		balance      string
		recentWinner sql.NullString
		pendingID    sql.NullString
		pendingRound sql.NullInt64
		pendingCount sql.NullInt64
		pendingPool  sql.NullString
		pendingAt    sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT state, players, balance::TEXT, last_timestamp, recent_winner, round, updated_at,
		       pending_request_id::TEXT, pending_round, pending_num_players, pending_pool::TEXT, pending_requested_at
		FROM raffle_state WHERE id = 1`,
	).Scan(&state, pq.Array(&players), &balance, &s.LastTimestamp, &recentWinner, &s.Round, &s.UpdatedAt,
		&pendingID, &pendingRound, &pendingCount, &pendingPool, &pendingAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}

	s.State = State(state) //nolint:gosec // constrained by CHECK (state IN (0, 1))
	s.LastTimestamp = s.LastTimestamp.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.Balance, err = parseNumeric(balance); err != nil {
		return Snapshot{}, fmt.Errorf("balance: %w", err)
	}
	for _, addr := range players {
		s.Players = append(s.Players, common.HexToAddress(addr))
	}
	if recentWinner.Valid {
		w := common.HexToAddress(recentWinner.String)
		s.RecentWinner = &w
	}
	if pendingID.Valid {
		id, err := parseNumeric(pendingID.String)
		if err != nil {
			return Snapshot{}, fmt.Errorf("pending_request_id: %w", err)
		}
		pool, err := parseNumeric(pendingPool.String)
		if err != nil {
			return Snapshot{}, fmt.Errorf("pending_pool: %w", err)
		}
		s.Pending = &PendingDraw{
			RequestID:   id,
			Round:       uint64(pendingRound.Int64), //nolint:gosec // non-negative by CHECK
			NumPlayers:  int(pendingCount.Int64),
			Pool:        pool,
			RequestedAt: pendingAt.Time.UTC(),
		}
	}
	return s, nil
}

func (p *PostgresStore) Save(ctx context.Context, snap Snapshot, draw *Draw) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	players := make([]string, len(snap.Players))
	for i, addr := range snap.Players {
		players[i] = addr.Hex()
	}
	var (
		recentWinner sql.NullString
		pendingID    sql.NullString
		pendingRound sql.NullInt64
		pendingCount sql.NullInt64
		pendingPool  sql.NullString
		pendingAt    sql.NullTime
	)
	if snap.RecentWinner != nil {
		recentWinner = sql.NullString{String: snap.RecentWinner.Hex(), Valid: true}
	}
	if snap.Pending != nil {
		pendingID = sql.NullString{String: snap.Pending.RequestID.String(), Valid: true}
		pendingRound = sql.NullInt64{Int64: int64(snap.Pending.Round), Valid: true} //nolint:gosec // round counters stay far below 2^63
		pendingCount = sql.NullInt64{Int64: int64(snap.Pending.NumPlayers), Valid: true}
		pendingPool = sql.NullString{String: snap.Pending.Pool.String(), Valid: true}
		pendingAt = sql.NullTime{Time: snap.Pending.RequestedAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO raffle_state (
			id, state, players, balance, last_timestamp, recent_winner, round, updated_at,
			pending_request_id, pending_round, pending_num_players, pending_pool, pending_requested_at
		) VALUES (1, $1, $2, $3::NUMERIC(78,0), $4, $5, $6, $7, $8::NUMERIC(78,0), $9, $10, $11::NUMERIC(78,0), $12)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			players = EXCLUDED.players,
			balance = EXCLUDED.balance,
			last_timestamp = EXCLUDED.last_timestamp,
			recent_winner = EXCLUDED.recent_winner,
			round = EXCLUDED.round,
			updated_at = EXCLUDED.updated_at,
			pending_request_id = EXCLUDED.pending_request_id,
			pending_round = EXCLUDED.pending_round,
			pending_num_players = EXCLUDED.pending_num_players,
			pending_pool = EXCLUDED.pending_pool,
			pending_requested_at = EXCLUDED.pending_requested_at`,
		int16(snap.State), pq.Array(players), snap.Balance.String(), snap.LastTimestamp, recentWinner,
		int64(snap.Round), snap.UpdatedAt, //nolint:gosec // round counters stay far below 2^63
		pendingID, pendingRound, pendingCount, pendingPool, pendingAt,
	)
	if err != nil {
		return fmt.Errorf("upsert raffle_state: %w", err)
	}

	if draw != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO raffle_draws (
				round, request_id, winner, winner_index, num_players, prize, random_word,
				opened_at, requested_at, picked_at
			) VALUES ($1, $2::NUMERIC(78,0), $3, $4, $5, $6::NUMERIC(78,0), $7::NUMERIC(78,0), $8, $9, $10)
			ON CONFLICT (round) DO NOTHING`,
			int64(draw.Round), draw.RequestID.String(), draw.Winner.Hex(), draw.WinnerIndex, draw.NumPlayers, //nolint:gosec // see above
			draw.Prize.String(), draw.RandomWord.String(), draw.OpenedAt, draw.RequestedAt, draw.PickedAt,
		)
		if err != nil {
			return fmt.Errorf("insert raffle_draws: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) ListDraws(ctx context.Context, before uint64, limit int) ([]Draw, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT round, request_id::TEXT, winner, winner_index, num_players, prize::TEXT, random_word::TEXT,
		       opened_at, requested_at, picked_at
		FROM raffle_draws
		WHERE $1::BIGINT = 0 OR round < $1::BIGINT
		ORDER BY round DESC
		LIMIT $2`, int64(before), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Draw
	for rows.Next() {
		var (
			d                      Draw
			requestID, prize, word string
			winner                 string
		)
		if err := rows.Scan(&d.Round, &requestID, &winner, &d.WinnerIndex, &d.NumPlayers, &prize, &word,
			&d.OpenedAt, &d.RequestedAt, &d.PickedAt); err != nil {
			return nil, err
		}
		d.Winner = common.HexToAddress(winner)
		if d.RequestID, err = parseNumeric(requestID); err != nil {
			return nil, err
		}
		if d.Prize, err = parseNumeric(prize); err != nil {
			return nil, err
		}
		if d.RandomWord, err = parseNumeric(word); err != nil {
			return nil, err
		}
		d.OpenedAt, d.RequestedAt, d.PickedAt = d.OpenedAt.UTC(), d.RequestedAt.UTC(), d.PickedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}
