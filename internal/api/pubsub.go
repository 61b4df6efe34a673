package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/triviapot/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		RoundID  uint64             `json:"round_id,omitempty"`
		Period   string             `json:"period"`
		Pool     int64              `json:"pool"`
		Entrants int                `json:"entrants"`
		Entries  []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Rank      int    `json:"rank"`
		SessionID string `json:"session_id"`
		PlayerID  string `json:"player_id"`
		Wallet    string `json:"wallet,omitempty"`
		Score     int64  `json:"score"`
		ElapsedMS int64  `json:"elapsed_ms"`
	}

	RoundSettled struct {
		Round   Round    `json:"round"`
		Payouts []Payout `json:"payouts,omitempty"`
		// Refunded is set for the receiving player when their entry fee was paid back.
		Refunded bool `json:"refunded,omitempty"`
	}
)

// PublishLeaderboardUpdated notifies every player on the leaderboard.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := toLeaderboard(e.Leaderboard)

	players := make([]string, 0, len(data.Entries))
	for _, entry := range data.Entries {
		players = append(players, entry.PlayerID)
	}

	return a.publishAll(ctx, players, func(string) any { return data }, e.Name())
}

// PublishRoundSettled notifies the winners of a finalized round, or the wallets refunded by an
// under-subscribed one. Refunds are addressed by wallet as players are not known to the vault.
func (a *API) PublishRoundSettled(ctx context.Context, e domain.EventRoundSettled) error {
	data := RoundSettled{
		Round:   toRound(e.Round),
		Payouts: toPayouts(e.Payouts),
	}

	var users []string
	for _, p := range e.Payouts {
		users = append(users, p.PlayerID)
	}
	users = append(users, e.Refunded...)

	refunded := make(map[string]bool, len(e.Refunded))
	for _, w := range e.Refunded {
		refunded[w] = true
	}

	return a.publishAll(ctx, dedupe(users), func(user string) any {
		d := data
		d.Refunded = refunded[user]
		return d
	}, e.Name())
}

func (a *API) publishAll(ctx context.Context, users []string, data func(user string) any, event string) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, u := range users {
		eg.Go(func() error {
			return a.publishNotification(ctx, u, event, data(u))
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, a.channel(user), b).Err()
}

func (a *API) channel(user string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, user)
}

func dedupe(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := ss[:0]
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
