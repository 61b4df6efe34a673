// Package question serves the question bank and custom games.
package question

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

// Bank reads questions from postgres. Questions are immutable once stored, so they are cached in memory.
type Bank struct {
	db    *pgxpool.Pool
	cache sync.Map // question ID -> domain.Question
}

func NewBank(c Config) *Bank {
	return &Bank{db: c.DB}
}

// Assign picks n distinct random ranked questions.
func (b *Bank) Assign(ctx context.Context, n int) ([]string, error) {
	const stmt = `SELECT question_id FROM questions WHERE ranked ORDER BY random() LIMIT $1;`

	rows, err := b.db.Query(ctx, stmt, n)
	if err != nil {
		return nil, fmt.Errorf("question: assign: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("question: assign: %w", err)
	}

	if len(ids) < n {
		return nil, errors.New(errors.CodeUnavailable, errors.WithMessagef("question bank has %d questions, need %d", len(ids), n))
	}

	return ids, nil
}

// Questions returns the questions in the order of ids.
func (b *Bank) Questions(ctx context.Context, ids []string) ([]domain.Question, error) {
	found := make(map[string]domain.Question, len(ids))

	var missing []string
	for _, id := range ids {
		if q, ok := b.cache.Load(id); ok {
			found[id] = q.(domain.Question)
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		qs, err := b.load(ctx, missing)
		if err != nil {
			return nil, err
		}

		for _, q := range qs {
			b.cache.Store(q.QuestionID, q)
			found[q.QuestionID] = q
		}
	}

	return Order(ids, found)
}

func (b *Bank) load(ctx context.Context, ids []string) ([]domain.Question, error) {
	const stmt = `SELECT question_id, text, options, correct_index, category FROM questions WHERE question_id = ANY($1);`

	rows, err := b.db.Query(ctx, stmt, ids)
	if err != nil {
		return nil, fmt.Errorf("question: select: %w", err)
	}

	qs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := row.Scan(&q.QuestionID, &q.Text, &q.Options, &q.CorrectIndex, &q.Category)
		return q, err
	})
	if err != nil {
		return nil, fmt.Errorf("question: scan: %w", err)
	}

	return qs, nil
}

// Order arranges found by ids. A missing ID is an error.
func Order(ids []string, found map[string]domain.Question) ([]domain.Question, error) {
	qs := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := found[id]
		if !ok {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: id=%s", id))
		}
		qs = append(qs, q)
	}

	return qs, nil
}

// CustomGame loads a user-authored game.
func (b *Bank) CustomGame(ctx context.Context, gameID string) (*domain.CustomGame, error) {
	const stmt = `SELECT game_id, author, title, question_ids FROM custom_games WHERE game_id = $1;`

	var g domain.CustomGame
	err := b.db.QueryRow(ctx, stmt, gameID).Scan(&g.GameID, &g.Author, &g.Title, &g.QuestionIDs)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("custom game not found: game=%s", gameID))
	}
	if err != nil {
		return nil, fmt.Errorf("question: select custom game: %w", err)
	}

	return &g, nil
}
