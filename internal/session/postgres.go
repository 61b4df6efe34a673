package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectSession = `SELECT session_id, player_id, wallet, mode, round_id, game_id, question_ids, block_size,
	cursor_pos, score, correct_count, elapsed_ms, payment_proof, start_time, complete_time FROM sessions`

func (p *PostgresRepository) CreateSession(ctx context.Context, ss *domain.Session, fee int64) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if ss.Mode == domain.ModeRanked {
		const updRoundStmt = `UPDATE rounds SET pool = pool + $2, entrants = entrants + 1 WHERE round_id = $1 AND status = 'open';`

		tag, err := tx.Exec(ctx, updRoundStmt, ss.RoundID, fee)
		if err != nil {
			return fmt.Errorf("update round pool: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRoundClosed
		}
	}

	const insStmt = `INSERT INTO sessions (session_id, player_id, wallet, mode, round_id, game_id, question_ids, block_size, payment_proof, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	_, err = tx.Exec(ctx, insStmt,
		ss.SessionID,
		ss.PlayerID,
		ss.Wallet,
		string(ss.Mode),
		nullRound(ss.RoundID),
		nullString(ss.GameID),
		ss.QuestionIDs,
		ss.BlockSize,
		nullString(ss.PaymentProof),
		ss.StartTime,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrProofUsed
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	ss, err := scanSession(p.db.QueryRow(ctx, selectSession+` WHERE session_id = $1;`, sessionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: session=%s", sessionID))
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	return ss, nil
}

func (p *PostgresRepository) FindByProof(ctx context.Context, proof string) (*domain.Session, error) {
	return p.find(ctx, selectSession+` WHERE payment_proof = $1;`, proof)
}

func (p *PostgresRepository) FindUnfinished(ctx context.Context, playerID string, roundID uint64, gameID string) (*domain.Session, error) {
	if gameID != "" {
		return p.find(ctx, selectSession+` WHERE player_id = $1 AND game_id = $2 AND complete_time IS NULL
			ORDER BY start_time DESC LIMIT 1;`, playerID, gameID)
	}

	return p.find(ctx, selectSession+` WHERE player_id = $1 AND round_id = $2 AND complete_time IS NULL
		ORDER BY start_time DESC LIMIT 1;`, playerID, roundID)
}

func (p *PostgresRepository) find(ctx context.Context, query string, args ...any) (*domain.Session, error) {
	ss, err := scanSession(p.db.QueryRow(ctx, query, args...))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	return ss, nil
}

func (p *PostgresRepository) GetAnswer(ctx context.Context, sessionID string, index int) (*domain.Answer, error) {
	const stmt = `SELECT session_id, question_index, question_id, selected_option, time_expired, elapsed_ms, correct,
		correct_index, points, running_score, running_correct, submit_time
		FROM answers WHERE session_id = $1 AND question_index = $2;`

	var a domain.Answer
	err := p.db.QueryRow(ctx, stmt, sessionID, index).Scan(
		&a.SessionID,
		&a.QuestionIndex,
		&a.QuestionID,
		&a.SelectedOption,
		&a.TimeExpired,
		&a.ElapsedMS,
		&a.Correct,
		&a.CorrectIndex,
		&a.Points,
		&a.RunningScore,
		&a.RunningCorrect,
		&a.SubmitTime,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select answer: %w", err)
	}

	return &a, nil
}

// RecordAnswer advances the cursor with a conditional update and inserts the answer in the same transaction.
// The primary key on (session_id, question_index) rejects a second answer for the same index.
func (p *PostgresRepository) RecordAnswer(ctx context.Context, a *domain.Answer) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		updStmt = `UPDATE sessions
			SET cursor_pos = cursor_pos + 1,
				score = score + $3,
				correct_count = correct_count + $4,
				elapsed_ms = elapsed_ms + $5
			WHERE session_id = $1 AND cursor_pos = $2 AND complete_time IS NULL
			RETURNING score, correct_count;`

		insStmt = `INSERT INTO answers (session_id, question_index, question_id, selected_option, time_expired, elapsed_ms,
			correct, correct_index, points, running_score, running_correct, submit_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);`
	)

	correct := 0
	if a.Correct {
		correct = 1
	}

	err = tx.QueryRow(ctx, updStmt, a.SessionID, a.QuestionIndex, a.Points, correct, a.ElapsedMS).
		Scan(&a.RunningScore, &a.RunningCorrect)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return ErrCursorMoved
	}
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	_, err = tx.Exec(ctx, insStmt,
		a.SessionID,
		a.QuestionIndex,
		a.QuestionID,
		a.SelectedOption,
		a.TimeExpired,
		a.ElapsedMS,
		a.Correct,
		a.CorrectIndex,
		a.Points,
		a.RunningScore,
		a.RunningCorrect,
		a.SubmitTime,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCursorMoved
		}
		return fmt.Errorf("insert answer: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresRepository) CompleteSession(ctx context.Context, sessionID string, t time.Time) (bool, error) {
	const stmt = `UPDATE sessions SET complete_time = $2 WHERE session_id = $1 AND complete_time IS NULL;`

	tag, err := p.db.Exec(ctx, stmt, sessionID, t)
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		ss      domain.Session
		mode    string
		roundID *int64
		gameID  *string
		proof   *string
	)

	err := row.Scan(
		&ss.SessionID,
		&ss.PlayerID,
		&ss.Wallet,
		&mode,
		&roundID,
		&gameID,
		&ss.QuestionIDs,
		&ss.BlockSize,
		&ss.Cursor,
		&ss.Score,
		&ss.CorrectCount,
		&ss.ElapsedMS,
		&proof,
		&ss.StartTime,
		&ss.CompleteTime,
	)
	if err != nil {
		return nil, err
	}

	ss.Mode = domain.Mode(mode)
	if roundID != nil {
		ss.RoundID = uint64(*roundID)
	}
	if gameID != nil {
		ss.GameID = *gameID
	}
	if proof != nil {
		ss.PaymentProof = *proof
	}

	return &ss, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullRound(id uint64) *int64 {
	if id == 0 {
		return nil
	}
	v := int64(id)
	return &v
}
