package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/triviapot/internal/domain"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) ListCompleted(ctx context.Context, roundID uint64, until time.Time) ([]domain.Session, error) {
	const stmt = `SELECT session_id::TEXT, player_id, wallet, score, correct_count, elapsed_ms, complete_time
		FROM sessions
		WHERE round_id = $1 AND mode = 'ranked' AND complete_time IS NOT NULL AND complete_time <= $2;`

	rows, err := p.db.Query(ctx, stmt, roundID, until)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Session, error) {
		ss := domain.Session{
			Mode:    domain.ModeRanked,
			RoundID: roundID,
		}
		err := row.Scan(&ss.SessionID, &ss.PlayerID, &ss.Wallet, &ss.Score, &ss.CorrectCount, &ss.ElapsedMS, &ss.CompleteTime)
		return ss, err
	})
}

func (p *PostgresRepository) InsertPayouts(ctx context.Context, payouts []domain.Payout) error {
	const stmt = `INSERT INTO payouts (round_id, rank, session_id, player_id, wallet, score, elapsed_ms, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (round_id, rank) DO NOTHING;`

	b := new(pgx.Batch)
	for _, po := range payouts {
		b.Queue(stmt, po.RoundID, po.Rank, po.SessionID, po.PlayerID, po.Wallet, po.Score, po.ElapsedMS, po.Amount)
	}

	if err := p.db.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert payouts: %w", err)
	}

	return nil
}

func (p *PostgresRepository) ListPayouts(ctx context.Context, roundIDs []uint64) ([]domain.Payout, error) {
	const stmt = `SELECT round_id, rank, session_id::TEXT, player_id, wallet, score, elapsed_ms, amount, paid, paid_amount
		FROM payouts
		WHERE round_id = ANY($1)
		ORDER BY round_id, rank;`

	rows, err := p.db.Query(ctx, stmt, roundIDs)
	if err != nil {
		return nil, fmt.Errorf("select payouts: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Payout, error) {
		var po domain.Payout
		err := row.Scan(&po.RoundID, &po.Rank, &po.SessionID, &po.PlayerID, &po.Wallet, &po.Score, &po.ElapsedMS, &po.Amount, &po.Paid, &po.PaidAmount)
		return po, err
	})
}

func (p *PostgresRepository) MarkPaid(ctx context.Context, roundID uint64, rank int, amount int64) error {
	const stmt = `UPDATE payouts SET paid = TRUE, paid_amount = $3 WHERE round_id = $1 AND rank = $2 AND NOT paid;`

	if _, err := p.db.Exec(ctx, stmt, roundID, rank, amount); err != nil {
		return fmt.Errorf("update payout: %w", err)
	}

	return nil
}
