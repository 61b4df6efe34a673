//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/victornm/triviapot/internal/api"
	"github.com/victornm/triviapot/internal/auth"
	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/session"
)

const (
	httpAddr = "http://localhost:8080"
	grpcAddr = "localhost:8081"
)

// TestRankedRound enters 5 players into the current round and plays each session to completion.
func TestRankedRound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var (
		wg      = new(sync.WaitGroup)
		players = []string{"u1", "u2", "u3", "u4", "u5"}
		suffix  = time.Now().Format("150405")
	)

	// Prepare Redis subscriber
	subscribeAsUser(ctx, t, makeRedis(t), wg, players[0]+suffix)

	var eg errgroup.Group
	for i, p := range players {
		player := p + suffix
		eg.Go(func() error {
			c := makeClient(t, player)

			cur, err := c.CurrentRound(ctx, &api.CurrentRoundRequest{})
			if err != nil {
				return fmt.Errorf("player %q current round: %w", player, err)
			}

			wallet := player + "-wallet"
			var entry api.EnterRoundResponse
			post(t, "/v1/localnet/airdrop", api.AirdropRequest{Wallet: wallet, Amount: uint64(cur.EntryFee)}, &api.BalanceResponse{})
			post(t, "/v1/localnet/enter", api.EnterRoundRequest{Wallet: wallet, RoundID: cur.Round.RoundID}, &entry)

			started, err := c.Start(ctx, &api.StartRequest{Mode: string(domain.ModeRanked), Wallet: wallet, PaymentProof: entry.Signature})
			if err != nil {
				return fmt.Errorf("player %q start: %w", player, err)
			}

			s := c.Session()
			qs, err := s.GetQuestions(ctx, sessionQuestions(started.Session.SessionID))
			if err != nil {
				return fmt.Errorf("player %q get questions: %w", player, err)
			}

			// Player i answers the first i+1 questions with option 0, then lets the rest expire.
			for _, q := range qs.Questions {
				req := submit(started.Session.SessionID, q.Index, 0, q.Index > i, int64(1000+100*i))
				resp, err := s.SubmitAnswer(ctx, req)
				if err != nil {
					return fmt.Errorf("player %q submit %d: %w", player, q.Index, err)
				}
				t.Logf("Player %q answered %d: points=%d total=%d", player, q.Index, resp.Answer.Points, resp.Answer.RunningScore)
			}

			done, err := s.Complete(ctx, complete(started.Session.SessionID))
			if err != nil {
				return fmt.Errorf("player %q complete: %w", player, err)
			}

			t.Logf("Player %q completed: score=%d rank=%v", player, done.Session.Score, deref(done.Rank))
			return nil
		})
	}

	require.NoError(t, eg.Wait())

	c := makeClient(t, players[0]+suffix)
	cur, err := c.CurrentRound(ctx, &api.CurrentRoundRequest{})
	require.NoError(t, err)

	l, err := c.GetLeaderboard(ctx, &api.GetLeaderboardRequest{RoundID: cur.Round.RoundID})
	require.NoError(t, err)
	t.Logf("Round %d leaderboard:\n%s", cur.Round.RoundID, formatLeaderboard(l.Leaderboard))

	time.Sleep(2 * time.Second)
	cancel()
	wg.Wait()
}

func makeClient(t *testing.T, player string) *api.Client {
	var token api.TokenResponse
	post(t, "/v1/localnet/token", api.TokenRequest{PlayerID: player, Wallet: player + "-wallet"}, &token)

	c, conn, err := api.Dial(grpcAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(auth.PerRPCCredentials{Token: token.Token, Insecure: true}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return c
}

func post(t *testing.T, path string, body, out any) {
	b, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(httpAddr+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode, path)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func subscribeAsUser(ctx context.Context, t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup, u string) {
	wg.Add(1)
	sub := subscribeRedis(ctx, t, rc, fmt.Sprintf("local:pubsub:user:%s", u))
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameLeaderboardUpdated:
				var l api.Leaderboard
				if err := json.Unmarshal(n.Data, &l); err != nil {
					t.Logf("unmarshal leaderboard: %v", err)
					continue
				}

				t.Logf("%s leaderboard:\n%s", u, formatLeaderboard(l))
			case domain.EventNameRoundSettled:
				t.Logf("%s round settled: %s", u, n.Data)
			}
		}
	}()
}

func subscribeRedis(ctx context.Context, t *testing.T, rc redis.UniversalClient, pattern string) <-chan *redis.Message {
	sub := rc.PSubscribe(ctx, pattern)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatLeaderboard(l api.Leaderboard) string {
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%d. %s: %d (%dms)\n", e.Rank, e.PlayerID, e.Score, e.ElapsedMS)
	}
	return s
}

func sessionQuestions(id string) session.GetQuestionsRequest {
	return session.GetQuestionsRequest{SessionID: id}
}

func submit(id string, index, option int, expired bool, elapsedMS int64) session.SubmitAnswerRequest {
	return session.SubmitAnswerRequest{
		SessionID:      id,
		QuestionIndex:  index,
		SelectedOption: option,
		TimeExpired:    expired,
		ElapsedMS:      elapsedMS,
	}
}

func complete(id string) session.CompleteRequest {
	return session.CompleteRequest{SessionID: id}
}

func deref(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
