package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/triviapot/internal/domain"
)

// PostgresHistory reads leaderboards from completed ranked sessions.
type PostgresHistory struct {
	db *pgxpool.Pool
}

func NewPostgresHistory(db *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// Aggregate sums each player's completed ranked sessions since the given time.
func (h *PostgresHistory) Aggregate(ctx context.Context, since time.Time, limit int) ([]domain.LeaderboardEntry, error) {
	const stmt = `SELECT '' AS session_id, player_id, max(wallet), sum(score)::BIGINT, sum(elapsed_ms)::BIGINT
		FROM sessions
		WHERE mode = 'ranked' AND complete_time >= $1
		GROUP BY player_id
		ORDER BY 4 DESC, 5 ASC, player_id ASC
		LIMIT $2;`

	return h.query(ctx, stmt, since, limit)
}

// Round lists the completed sessions of a round in leaderboard order.
func (h *PostgresHistory) Round(ctx context.Context, roundID uint64, limit int) ([]domain.LeaderboardEntry, error) {
	const stmt = `SELECT session_id::TEXT, player_id, wallet, score, elapsed_ms
		FROM sessions
		WHERE round_id = $1 AND complete_time IS NOT NULL
		ORDER BY score DESC, elapsed_ms ASC, complete_time ASC, session_id ASC
		LIMIT $2;`

	return h.query(ctx, stmt, roundID, limit)
}

func (h *PostgresHistory) query(ctx context.Context, stmt string, args ...any) ([]domain.LeaderboardEntry, error) {
	rows, err := h.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		err := row.Scan(&e.SessionID, &e.PlayerID, &e.Wallet, &e.Score, &e.ElapsedMS)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan leaderboard: %w", err)
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries, nil
}
