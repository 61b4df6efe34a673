package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultInterval = time.Minute
	lockTTL         = 5 * time.Minute
)

type CloserConfig struct {
	Service  *Service
	Rounds   RoundRepository
	Redis    redis.UniversalClient
	Prefix   string
	Interval time.Duration
	Now      func() time.Time
}

// Closer periodically settles rounds whose window and grace period have elapsed.
// A per-round redis lock keeps concurrent instances from settling the same round.
type Closer struct {
	settle   *Service
	rounds   RoundRepository
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration
	now      func() time.Time
}

func NewCloser(c CloserConfig) *Closer {
	cl := &Closer{
		settle:   c.Service,
		rounds:   c.Rounds,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.Interval,
		now:      c.Now,
	}

	if cl.interval <= 0 {
		cl.interval = defaultInterval
	}
	if cl.now == nil {
		cl.now = time.Now
	}

	return cl
}

// Run settles due rounds every interval until ctx is done.
func (c *Closer) Run(ctx context.Context) error {
	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		c.Tick(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick settles every due round once. It returns the number of rounds settled.
func (c *Closer) Tick(ctx context.Context) int {
	due, err := c.rounds.ListDue(ctx, c.now().Add(-c.settle.Grace()))
	if err != nil {
		slog.ErrorContext(ctx, "closer: list due rounds failed", "error", err)
		return 0
	}

	n := 0
	for _, r := range due {
		ok, err := c.settleOne(ctx, r.RoundID)
		if err != nil {
			slog.ErrorContext(ctx, "closer: settle round failed", "round_id", r.RoundID, "error", err)
			continue
		}
		if ok {
			n++
		}
	}

	return n
}

func (c *Closer) settleOne(ctx context.Context, roundID uint64) (bool, error) {
	key := fmt.Sprintf("%s:settle:%d", c.prefix, roundID)

	ok, err := c.redis.SetNX(ctx, key, c.now().UnixMilli(), lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if err := c.redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			slog.WarnContext(ctx, "closer: release lock failed", "round_id", roundID, "error", err)
		}
	}()

	resp, err := c.settle.SettleRound(ctx, SettleRoundRequest{RoundID: roundID})
	if err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "closer: round settled",
		"round_id", roundID,
		"status", resp.Round.Status,
		"payouts", len(resp.Payouts),
		"refunded", len(resp.Refunded),
	)

	return true, nil
}
