package round

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/roundid"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectRound = `SELECT round_id, pool, entrants, status FROM rounds`

func (p *PostgresRepository) EnsureRound(ctx context.Context, key roundid.Key) (*domain.Round, error) {
	const insStmt = `INSERT INTO rounds (round_id, epoch_date, slot) VALUES ($1, $2, $3) ON CONFLICT (round_id) DO NOTHING;`

	if _, err := p.db.Exec(ctx, insStmt, key.ID(), key.Date, key.Slot); err != nil {
		return nil, fmt.Errorf("insert round: %w", err)
	}

	return p.GetRound(ctx, key.ID())
}

func (p *PostgresRepository) GetRound(ctx context.Context, roundID uint64) (*domain.Round, error) {
	r, err := scanRound(p.db.QueryRow(ctx, selectRound+` WHERE round_id = $1;`, roundID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("round not found: round=%d", roundID))
	}
	if err != nil {
		return nil, fmt.Errorf("select round: %w", err)
	}

	return r, nil
}

func (p *PostgresRepository) ListRounds(ctx context.Context, roundIDs []uint64) ([]domain.Round, error) {
	return p.list(ctx, selectRound+` WHERE round_id = ANY($1) ORDER BY round_id;`, roundIDs)
}

func (p *PostgresRepository) ListDue(ctx context.Context, end time.Time) ([]domain.Round, error) {
	// Rounds before the one containing end have windows ending at or before end.
	return p.list(ctx, selectRound+` WHERE status IN ('open', 'closed') AND round_id < $1 ORDER BY round_id;`, roundid.At(end).ID())
}

func (p *PostgresRepository) UpdateStatus(ctx context.Context, roundID uint64, from, to domain.RoundStatus) (bool, error) {
	const stmt = `UPDATE rounds
		SET status = $3, settle_time = CASE WHEN $3 IN ('finalized', 'refund') THEN now() ELSE settle_time END
		WHERE round_id = $1 AND status = $2;`

	tag, err := p.db.Exec(ctx, stmt, roundID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("update round status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (p *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]domain.Round, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select rounds: %w", err)
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, *r)
	}

	return rounds, rows.Err()
}

func scanRound(row pgx.Row) (*domain.Round, error) {
	var (
		r      domain.Round
		status string
	)

	if err := row.Scan(&r.RoundID, &r.Pool, &r.Entrants, &status); err != nil {
		return nil, err
	}

	r.Key = roundid.FromID(r.RoundID)
	r.Status = domain.RoundStatus(status)
	return &r, nil
}
