// Package entrylimit enforces how many paid ranked entries a player may make.
package entrylimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/triviapot/internal/errors"
)

const (
	defaultPerRound = 5
	defaultPerDay   = 20
	defaultWindow   = 24 * time.Hour
)

const (
	statusOK = iota
	statusRoundLimit
	statusDayLimit
)

// KEYS: round set, rolling window zset.
// ARGV: cutoff, now, per round, per day, member, record flag, ttl ms.
// Returns {status, remaining}.
var script = redis.NewScript(`
local round, day = KEYS[1], KEYS[2]
local perRound, perDay = tonumber(ARGV[3]), tonumber(ARGV[4])
local member, ttl = ARGV[5], tonumber(ARGV[7])

redis.call("ZREMRANGEBYSCORE", day, "-inf", "(" .. ARGV[1])

local r = redis.call("SCARD", round)
local d = redis.call("ZCARD", day)

if member ~= "" and redis.call("SISMEMBER", round, member) == 1 then
	return {0, math.max(0, math.min(perRound - r, perDay - d))}
end

if r >= perRound then
	return {1, 0}
end
if d >= perDay then
	return {2, 0}
end

if ARGV[6] == "1" then
	redis.call("SADD", round, member)
	redis.call("PEXPIRE", round, ttl)
	redis.call("ZADD", day, ARGV[2], member)
	redis.call("PEXPIRE", day, ttl)
	r = r + 1
	d = d + 1
end

return {0, math.min(perRound - r, perDay - d)}
`)

type Config struct {
	Redis    redis.UniversalClient
	Prefix   string
	PerRound int
	PerDay   int
	Window   time.Duration
	Now      func() time.Time
}

// Limiter checks and records entries atomically, so concurrent starts cannot exceed the limits.
type Limiter struct {
	redis    redis.UniversalClient
	prefix   string
	perRound int
	perDay   int
	window   time.Duration
	now      func() time.Time
}

func NewLimiter(c Config) *Limiter {
	l := &Limiter{
		redis:    c.Redis,
		prefix:   c.Prefix,
		perRound: c.PerRound,
		perDay:   c.PerDay,
		window:   c.Window,
		now:      c.Now,
	}

	if l.perRound <= 0 {
		l.perRound = defaultPerRound
	}
	if l.perDay <= 0 {
		l.perDay = defaultPerDay
	}
	if l.window <= 0 {
		l.window = defaultWindow
	}
	if l.now == nil {
		l.now = time.Now
	}

	return l
}

// Check returns the number of entries the player may still make in the round.
func (l *Limiter) Check(ctx context.Context, playerID string, roundID uint64) (int, error) {
	return l.run(ctx, playerID, roundID, "", false)
}

// Record registers entryID for the player in the round. Recording the same entry twice is a no-op.
func (l *Limiter) Record(ctx context.Context, playerID string, roundID uint64, entryID string) (int, error) {
	if entryID == "" {
		return 0, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("entrylimit: empty entry id"))
	}

	return l.run(ctx, playerID, roundID, entryID, true)
}

func (l *Limiter) run(ctx context.Context, playerID string, roundID uint64, member string, record bool) (int, error) {
	now := l.now()
	flag := "0"
	if record {
		flag = "1"
	}

	res, err := script.Run(ctx, l.redis,
		[]string{l.roundKey(playerID, roundID), l.dayKey(playerID)},
		now.Add(-l.window).UnixMilli(),
		now.UnixMilli(),
		l.perRound,
		l.perDay,
		member,
		flag,
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("entrylimit: run script: %w", err)
	}

	if len(res) != 2 {
		return 0, fmt.Errorf("entrylimit: unexpected script result %v", res)
	}

	switch res[0] {
	case statusRoundLimit:
		return 0, errors.New(errors.CodeResourceExhausted,
			errors.WithReason(errors.ReasonEntryLimitExceeded),
			errors.WithMessagef("entry limit exceeded: at most %d entries per round", l.perRound),
			errors.WithMetadata("limit", "round"),
			errors.WithMetadata("max", strconv.Itoa(l.perRound)),
		)
	case statusDayLimit:
		return 0, errors.New(errors.CodeResourceExhausted,
			errors.WithReason(errors.ReasonEntryLimitExceeded),
			errors.WithMessagef("entry limit exceeded: at most %d entries per %s", l.perDay, l.window),
			errors.WithMetadata("limit", "day"),
			errors.WithMetadata("max", strconv.Itoa(l.perDay)),
		)
	}

	return int(res[1]), nil
}

func (l *Limiter) roundKey(playerID string, roundID uint64) string {
	return fmt.Sprintf("%s:{%s}:round:%d", l.prefix, playerID, roundID)
}

func (l *Limiter) dayKey(playerID string) string {
	return fmt.Sprintf("%s:{%s}:entries", l.prefix, playerID)
}
