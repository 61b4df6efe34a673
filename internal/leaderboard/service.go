package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultLimit    = 100
	keyTTL          = 7 * 24 * time.Hour

	// elapsedSpan bounds the elapsed component of the composite score.
	elapsedSpan = 1_000_000_000
)

// History aggregates completed ranked sessions from durable storage for periods longer than a round.
type History interface {
	Aggregate(ctx context.Context, since time.Time, limit int) ([]domain.LeaderboardEntry, error)
	Round(ctx context.Context, roundID uint64, limit int) ([]domain.LeaderboardEntry, error)
}

type RoundSource interface {
	Get(ctx context.Context, roundID uint64) (*domain.Round, error)
}

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	History  History
	Rounds   RoundSource
	Limit    int
	Now      func() time.Time
}

type Service struct {
	eb      *event.Bus
	redis   redis.UniversalClient
	prefix  string
	history History
	rounds  RoundSource
	limit   int
	now     func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:      c.EventBus,
		redis:   c.Redis,
		prefix:  c.Prefix,
		history: c.History,
		rounds:  c.Rounds,
		limit:   c.Limit,
		now:     c.Now,
	}

	if s.limit <= 0 {
		s.limit = defaultLimit
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameRoundSettled, func(ctx context.Context, e event.Event) error {
		return s.publishLeaderboard(ctx, e.(domain.EventRoundSettled).Round.RoundID)
	})

	return s
}

type entry struct {
	PlayerID  string `json:"player_id"`
	Wallet    string `json:"wallet"`
	Score     int64  `json:"score"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Record adds a completed ranked session to its round leaderboard and returns the provisional rank.
// Recording the same session again is idempotent.
func (s *Service) Record(ctx context.Context, ss domain.Session) (int, error) {
	b, err := json.Marshal(entry{
		PlayerID:  ss.PlayerID,
		Wallet:    ss.Wallet,
		Score:     ss.Score,
		ElapsedMS: ss.ElapsedMS,
	})
	if err != nil {
		return 0, fmt.Errorf("leaderboard: marshal entry: %w", err)
	}

	key, entries := s.getLeaderboardKey(ss.RoundID), s.getEntriesKey(ss.RoundID)

	var rank *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: Composite(ss.Score, ss.ElapsedMS), Member: ss.SessionID})
		p.HSet(ctx, entries, ss.SessionID, b)
		p.Expire(ctx, key, keyTTL)
		p.Expire(ctx, entries, keyTTL)
		rank = p.ZRevRank(ctx, key, ss.SessionID)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("leaderboard: record: %w", err)
	}

	if err := s.schedulePublishLeaderboard(ctx, ss.RoundID); err != nil {
		return 0, err
	}

	return int(rank.Val()) + 1, nil
}

// Composite packs score and elapsed time into one sortable value: higher score first, then faster.
func Composite(score, elapsedMS int64) float64 {
	elapsed := min(max(elapsedMS, 0), elapsedSpan-1)
	return float64(score)*elapsedSpan + float64(elapsedSpan-1-elapsed)
}

type GetLeaderboardRequest struct {
	RoundID uint64
	Period  domain.Period
	Limit   int
}

// GetLeaderboard returns the leaderboard of a round, or of a period across rounds.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	if req.Period == "" {
		req.Period = domain.PeriodRound
	}
	if !req.Period.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown period: %q", req.Period))
	}

	limit := req.Limit
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}

	if req.Period != domain.PeriodRound {
		return s.getPeriodLeaderboard(ctx, req.Period, limit)
	}

	return s.getRoundLeaderboard(ctx, req.RoundID, limit)
}

func (s *Service) getRoundLeaderboard(ctx context.Context, roundID uint64, limit int) (*domain.Leaderboard, error) {
	l := &domain.Leaderboard{
		RoundID: roundID,
		Period:  domain.PeriodRound,
	}

	if s.rounds != nil {
		r, err := s.rounds.Get(ctx, roundID)
		if err != nil {
			return nil, err
		}
		l.Pool, l.Entrants = r.Pool, r.Entrants
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(roundID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		if s.history == nil {
			return l, nil
		}

		// Expired from redis: rebuild from stored sessions.
		l.Entries, err = s.history.Round(ctx, roundID, limit)
		if err != nil {
			return nil, fmt.Errorf("get round history: %w", err)
		}
		return l, nil
	}

	ids := make([]string, 0, len(res))
	for _, z := range res {
		ids = append(ids, z.Member.(string))
	}

	vals, err := s.redis.HMGet(ctx, s.getEntriesKey(roundID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard entries: %w", err)
	}

	l.Entries = make([]domain.LeaderboardEntry, 0, len(ids))
	for i, id := range ids {
		var e entry
		if raw, ok := vals[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				return nil, fmt.Errorf("unmarshal leaderboard entry %s: %w", id, err)
			}
		}

		l.Entries = append(l.Entries, domain.LeaderboardEntry{
			Rank:      i + 1,
			SessionID: id,
			PlayerID:  e.PlayerID,
			Wallet:    e.Wallet,
			Score:     e.Score,
			ElapsedMS: e.ElapsedMS,
		})
	}

	return l, nil
}

func (s *Service) getPeriodLeaderboard(ctx context.Context, p domain.Period, limit int) (*domain.Leaderboard, error) {
	if s.history == nil {
		return nil, errors.New(errors.CodeUnavailable, errors.WithMessagef("period leaderboards unavailable"))
	}

	entries, err := s.history.Aggregate(ctx, Since(p, s.now()), limit)
	if err != nil {
		return nil, fmt.Errorf("aggregate leaderboard: %w", err)
	}

	return &domain.Leaderboard{
		Period:  p,
		Entries: entries,
	}, nil
}

// Since returns the start of the period containing now. Weeks start on Monday, UTC.
func Since(p domain.Period, now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch p {
	case domain.PeriodDay:
		return day
	case domain.PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Unix(0, 0).UTC()
	}
}

// schedulePublishLeaderboard publishes the leaderboard changes after a certain interval.
// Instead of publishing leaderboard changes immediately, publishes them after a certain interval.
// Because there are many sessions completing in a short time, this can reduce the number of published events.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, roundID uint64) error {
	// SETNX keeps multiple instances of the service from publishing the same round at once.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(roundID), s.now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, roundID)
}

func (s *Service) publishLeaderboard(ctx context.Context, roundID uint64) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		RoundID: roundID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: round=%d: %w", roundID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getLeaderboardKey(roundID uint64) string {
	return fmt.Sprintf("%s:{%d}:leaderboard", s.prefix, roundID)
}

func (s *Service) getEntriesKey(roundID uint64) string {
	return fmt.Sprintf("%s:{%d}:entries", s.prefix, roundID)
}

func (s *Service) getLeaderboardTimeKey(roundID uint64) string {
	return fmt.Sprintf("%s:{%d}:time", s.prefix, roundID)
}
