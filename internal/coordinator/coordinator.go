// Package coordinator drives one player's session on the client: it shows questions, races the player's
// selection against the question deadline and submits exactly one answer per question.
package coordinator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/session"
)

const (
	defaultPauseMin     = 800 * time.Millisecond
	defaultPauseMax     = 1200 * time.Millisecond
	defaultTickInterval = time.Second
	maxResyncs          = 3
)

// ErrQuit is returned by Run after Quit.
var ErrQuit = stderrors.New("coordinator: quit")

// API is the session API as seen by a player.
type API interface {
	GetQuestions(ctx context.Context, req session.GetQuestionsRequest) (*session.GetQuestionsResponse, error)
	SubmitAnswer(ctx context.Context, req session.SubmitAnswerRequest) (*session.SubmitAnswerResponse, error)
	Complete(ctx context.Context, req session.CompleteRequest) (*session.CompleteResponse, error)
}

// UI renders the session. Methods are called from the Run goroutine only.
type UI interface {
	ShowQuestion(q domain.PublicQuestion, limit time.Duration)
	ShowElapsed(elapsed time.Duration)
	ShowResult(res *session.SubmitAnswerResponse)
	// ShowInterstitial is shown after a round block; the next block starts on Continue.
	ShowInterstitial(next, total int)
	ShowCompleted(res *session.CompleteResponse)
}

type Config struct {
	API       API
	UI        UI
	SessionID string
	PlayerID  string
	// Pause after each answer is drawn uniformly from [PauseMin, PauseMax].
	PauseMin     time.Duration
	PauseMax     time.Duration
	TickInterval time.Duration
	Now          func() time.Time
}

// pending is the question waiting for a resolution. fired latches the first of selection and deadline.
type pending struct {
	index  int
	fired  atomic.Bool
	option chan int
}

type Coordinator struct {
	api       API
	ui        UI
	sessionID string
	playerID  string
	pauseMin  time.Duration
	pauseMax  time.Duration
	tick      time.Duration
	now       func() time.Time

	current  atomic.Pointer[pending]
	cont     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once

	started time.Time
	ticker  *time.Ticker
	totals  session.CompleteRequest
}

func New(c Config) *Coordinator {
	co := &Coordinator{
		api:       c.API,
		ui:        c.UI,
		sessionID: c.SessionID,
		playerID:  c.PlayerID,
		pauseMin:  c.PauseMin,
		pauseMax:  c.PauseMax,
		tick:      c.TickInterval,
		now:       c.Now,
		cont:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}

	if co.pauseMin <= 0 && co.pauseMax <= 0 {
		co.pauseMin, co.pauseMax = defaultPauseMin, defaultPauseMax
	}
	if co.pauseMax < co.pauseMin {
		co.pauseMax = co.pauseMin
	}
	if co.tick <= 0 {
		co.tick = defaultTickInterval
	}
	if co.now == nil {
		co.now = time.Now
	}

	co.totals = session.CompleteRequest{SessionID: c.SessionID, PlayerID: c.PlayerID}
	return co
}

// Select answers the question at index. It reports false when the question is no longer waiting for an
// answer, either because it was already resolved or because index is not the current question.
func (c *Coordinator) Select(index, option int) bool {
	p := c.current.Load()
	if p == nil || p.index != index || !p.fired.CompareAndSwap(false, true) {
		return false
	}

	p.option <- option
	return true
}

// Continue starts the next round block when the interstitial is shown. Otherwise it has no effect.
func (c *Coordinator) Continue() {
	select {
	case c.cont <- struct{}{}:
	default:
	}
}

// Quit stops Run. A question waiting for an answer is abandoned without submitting anything.
func (c *Coordinator) Quit() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// Run plays the session from its server-side cursor until it is completed.
func (c *Coordinator) Run(ctx context.Context) (*session.CompleteResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.started = c.now()
	c.ticker = time.NewTicker(c.tick)
	defer c.ticker.Stop()

	res, err := c.run(ctx)
	if err != nil && c.quitted() {
		return nil, ErrQuit
	}

	return res, err
}

func (c *Coordinator) run(ctx context.Context) (*session.CompleteResponse, error) {
	block, err := c.sync(ctx)
	if err != nil {
		return nil, err
	}

	// A resumed session continues from the server's totals.
	c.totals.FinalScore = block.Score
	c.totals.FinalCorrect = block.CorrectCount
	c.totals.TotalElapsedMS = block.ElapsedMS

	cursor, resyncs := block.Cursor, 0
	for {
		q, ok := questionAt(block, cursor)
		if block.Completed || !ok {
			return c.complete(ctx)
		}

		res, err := c.ask(ctx, q, block.TimeLimit)
		if stderrors.Is(err, errors.ErrQuestionIndexMismatch) && resyncs < maxResyncs {
			slog.WarnContext(ctx, "coordinator: cursor out of sync", "session_id", c.sessionID, "index", q.Index, "error", err)
			resyncs++
			if block, err = c.sync(ctx); err != nil {
				return nil, err
			}
			cursor = block.Cursor
			continue
		}
		if stderrors.Is(err, errors.ErrSessionCompleted) {
			// Finalized elsewhere; Complete returns the stored result.
			return c.complete(ctx)
		}
		if err != nil {
			return nil, err
		}

		resyncs = 0
		cursor = res.Answer.QuestionIndex + 1
		c.ui.ShowResult(res)

		if res.IsLastInSession {
			return c.complete(ctx)
		}

		if err := c.wait(ctx, c.pause()); err != nil {
			return nil, err
		}

		if res.IsLastInBlock {
			if err := c.interstitial(ctx, block.Block+1, block.TotalBlocks); err != nil {
				return nil, err
			}
			if block, err = c.sync(ctx); err != nil {
				return nil, err
			}
			cursor = block.Cursor
		}
	}
}

func (c *Coordinator) sync(ctx context.Context) (*session.GetQuestionsResponse, error) {
	block, err := c.api.GetQuestions(ctx, session.GetQuestionsRequest{SessionID: c.sessionID, PlayerID: c.playerID})
	if err != nil {
		return nil, fmt.Errorf("coordinator: get questions: %w", err)
	}

	return block, nil
}

// ask shows the question and submits whichever comes first of the player's selection and the deadline.
func (c *Coordinator) ask(ctx context.Context, q domain.PublicQuestion, limit time.Duration) (*session.SubmitAnswerResponse, error) {
	p := &pending{index: q.Index, option: make(chan int, 1)}
	c.current.Store(p)
	defer c.current.Store(nil)

	shown := c.now()
	c.ui.ShowQuestion(q, limit)

	deadline := time.NewTimer(limit)
	defer deadline.Stop()

	req := session.SubmitAnswerRequest{SessionID: c.sessionID, PlayerID: c.playerID, QuestionIndex: q.Index}
	for resolved := false; !resolved; {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.ticker.C:
			c.ui.ShowElapsed(c.now().Sub(c.started))
		case opt := <-p.option:
			req.SelectedOption = opt
			req.ElapsedMS = min(c.now().Sub(shown), limit).Milliseconds()
			resolved = true
		case <-deadline.C:
			// A selection that won the latch is already buffered and read on the next iteration.
			if p.fired.CompareAndSwap(false, true) {
				req.SelectedOption = -1
				req.TimeExpired = true
				req.ElapsedMS = limit.Milliseconds()
				resolved = true
			}
		}
	}

	res, err := c.api.SubmitAnswer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("coordinator: submit answer %d: %w", q.Index, err)
	}

	if !res.Duplicate {
		c.totals.FinalScore += res.Answer.Points
		c.totals.TotalElapsedMS += res.Answer.ElapsedMS
		if res.Answer.Correct {
			c.totals.FinalCorrect++
		}
	}

	return res, nil
}

func (c *Coordinator) interstitial(ctx context.Context, next, total int) error {
	select {
	case <-c.cont:
	default:
	}

	c.ui.ShowInterstitial(next, total)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ticker.C:
			c.ui.ShowElapsed(c.now().Sub(c.started))
		case <-c.cont:
			return nil
		}
	}
}

func (c *Coordinator) complete(ctx context.Context) (*session.CompleteResponse, error) {
	res, err := c.api.Complete(ctx, c.totals)
	if err != nil {
		return nil, fmt.Errorf("coordinator: complete: %w", err)
	}

	c.ui.ShowCompleted(res)
	return res, nil
}

func (c *Coordinator) pause() time.Duration {
	if c.pauseMax == c.pauseMin {
		return c.pauseMin
	}

	return c.pauseMin + rand.N(c.pauseMax-c.pauseMin+1)
}

func (c *Coordinator) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ticker.C:
			c.ui.ShowElapsed(c.now().Sub(c.started))
		case <-t.C:
			return nil
		}
	}
}

func (c *Coordinator) quitted() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func questionAt(block *session.GetQuestionsResponse, index int) (domain.PublicQuestion, bool) {
	for _, q := range block.Questions {
		if q.Index == index {
			return q, true
		}
	}

	return domain.PublicQuestion{}, false
}
