// Command player plays a session against a localnet server from the terminal.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/victornm/triviapot/internal/api"
	"github.com/victornm/triviapot/internal/auth"
	"github.com/victornm/triviapot/internal/config"
	"github.com/victornm/triviapot/internal/coordinator"
	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/session"
)

type Config struct {
	HTTP struct {
		Addr string
	}

	GRPC struct {
		Addr string
	}

	Player struct {
		ID     string
		Wallet string
		// Mode is ranked or custom. Ranked play pays the entry fee from an airdrop.
		Mode   string
		GameID string
	}
}

func main() {
	var c Config
	c.HTTP.Addr = "http://localhost:8080"
	c.GRPC.Addr = "localhost:8081"
	c.Player.Mode = string(domain.ModeRanked)

	p := os.Getenv("CONFIG_PATH")
	if p == "" {
		log.Fatal("CONFIG_PATH not set")
	}
	if err := config.Load(p, &c); err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := play(ctx, c); err != nil {
		log.Fatalf("Play failed: %v", err)
	}
}

func play(ctx context.Context, c Config) error {
	var token api.TokenResponse
	if err := post(ctx, c.HTTP.Addr+"/v1/localnet/token", api.TokenRequest{PlayerID: c.Player.ID, Wallet: c.Player.Wallet}, &token); err != nil {
		return fmt.Errorf("token: %w", err)
	}

	client, conn, err := api.Dial(c.GRPC.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(auth.PerRPCCredentials{Token: token.Token, Insecure: true}),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &api.StartRequest{Mode: c.Player.Mode, Wallet: c.Player.Wallet, GameID: c.Player.GameID}
	if c.Player.Mode == string(domain.ModeRanked) {
		if req.PaymentProof, req.RoundID, err = enter(ctx, client, c); err != nil {
			return err
		}
	}

	started, err := client.Start(ctx, req)
	if errors.HasReason(err, errors.ReasonRoundNotOpen) {
		return fmt.Errorf("round %d closed before the session started, the entry is refunded at settlement: %w", req.RoundID, err)
	}
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	fmt.Printf("Session %s (%d questions, resumed=%t)\n", started.Session.SessionID, started.Session.TotalQuestions, started.Resumed)

	ui := &terminal{}
	co := coordinator.New(coordinator.Config{
		API:       client.Session(),
		UI:        ui,
		SessionID: started.Session.SessionID,
	})
	ui.co = co

	go ui.read(os.Stdin)
	go func() {
		<-ctx.Done()
		co.Quit()
	}()

	_, err = co.Run(ctx)
	return err
}

// enter pays the entry fee of the current round and returns the payment proof.
func enter(ctx context.Context, client *api.Client, c Config) (string, uint64, error) {
	cur, err := client.CurrentRound(ctx, &api.CurrentRoundRequest{})
	if err != nil {
		return "", 0, fmt.Errorf("current round: %w", err)
	}
	showPayouts(ctx, client, cur.PreviousRoundID)

	left, err := client.CheckEntry(ctx, &api.CheckEntryRequest{})
	switch {
	case stderrors.Is(err, errors.ErrEntryLimitExceeded):
		return "", 0, fmt.Errorf("no entries left, next round %d: %w", cur.NextRoundID, err)
	case stderrors.Is(err, errors.ErrRoundNotOpen):
		return "", 0, fmt.Errorf("round %d is not accepting entries: %w", cur.Round.RoundID, err)
	case err != nil:
		return "", 0, fmt.Errorf("check entry: %w", err)
	}
	fmt.Printf("%d entries left this round\n", left.EntriesLeft)

	var b api.BalanceResponse
	if err := post(ctx, c.HTTP.Addr+"/v1/localnet/airdrop", api.AirdropRequest{Wallet: c.Player.Wallet, Amount: uint64(cur.EntryFee)}, &b); err != nil {
		return "", 0, fmt.Errorf("airdrop: %w", err)
	}

	var e api.EnterRoundResponse
	if err := post(ctx, c.HTTP.Addr+"/v1/localnet/enter", api.EnterRoundRequest{Wallet: c.Player.Wallet, RoundID: cur.Round.RoundID}, &e); err != nil {
		return "", 0, fmt.Errorf("enter round: %w", err)
	}

	fmt.Printf("Entered round %d (%s slot %d), pool %d\n", e.RoundID, cur.Round.Date, cur.Round.Slot, cur.Round.Pool+cur.EntryFee)
	return e.Signature, e.RoundID, nil
}

// showPayouts prints the winners of a settled round. Rounds without payouts print nothing.
func showPayouts(ctx context.Context, client *api.Client, roundID uint64) {
	resp, err := client.GetRoundPayouts(ctx, &api.GetRoundPayoutsRequest{RoundIDs: []uint64{roundID}})
	if err != nil || len(resp.Payouts) == 0 {
		return
	}

	fmt.Printf("Round %d winners:\n", roundID)
	for _, p := range resp.Payouts {
		fmt.Printf("  #%d %s  %d pts  %d\n", p.Rank, p.PlayerID, p.Score, p.Amount)
	}
}

func post(ctx context.Context, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
			Reason  string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s %s", resp.Status, e.Reason, e.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// terminal reads an option number per line, "c" to continue after a block and "q" to quit.
type terminal struct {
	co      *coordinator.Coordinator
	current atomic.Int64
}

func (t *terminal) read(f *os.File) {
	s := bufio.NewScanner(f)
	for s.Scan() {
		switch line := strings.TrimSpace(s.Text()); line {
		case "q":
			t.co.Quit()
			return
		case "c":
			t.co.Continue()
		default:
			opt, err := strconv.Atoi(line)
			if err != nil || !t.co.Select(int(t.current.Load()), opt-1) {
				fmt.Println("  (ignored)")
			}
		}
	}
}

func (t *terminal) ShowQuestion(q domain.PublicQuestion, limit time.Duration) {
	t.current.Store(int64(q.Index))

	fmt.Printf("\nQ%d. %s  [%s]\n", q.Index+1, q.Text, limit)
	for i, o := range q.Options {
		fmt.Printf("  %d) %s\n", i+1, o)
	}
}

func (t *terminal) ShowElapsed(time.Duration) {}

func (t *terminal) ShowResult(res *session.SubmitAnswerResponse) {
	a := res.Answer
	switch {
	case a.TimeExpired:
		fmt.Printf("  Time's up. Answer: %d\n", a.CorrectIndex+1)
	case a.Correct:
		fmt.Printf("  Correct! +%d (total %d)\n", a.Points, a.RunningScore)
	default:
		fmt.Printf("  Wrong. Answer: %d\n", a.CorrectIndex+1)
	}
}

func (t *terminal) ShowInterstitial(next, total int) {
	fmt.Printf("\nBlock %d of %d done. Type c to continue.\n", next, total)
}

func (t *terminal) ShowCompleted(res *session.CompleteResponse) {
	ss := res.Session
	fmt.Printf("\nDone: %d points, %d correct, %s\n", ss.Score, ss.CorrectCount, time.Duration(ss.ElapsedMS)*time.Millisecond)
	if res.Rank != nil {
		fmt.Printf("Provisional rank: %d\n", *res.Rank)
	}
}
