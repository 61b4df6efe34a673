// Package api serves the round service over gRPC (JSON codec) and HTTP, and pushes player notifications
// over websockets.
package api

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/triviapot/internal/auth"
	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/event"
	"github.com/victornm/triviapot/internal/leaderboard"
	"github.com/victornm/triviapot/internal/round"
	"github.com/victornm/triviapot/internal/roundid"
	"github.com/victornm/triviapot/internal/session"
	"github.com/victornm/triviapot/internal/settlement"
	"github.com/victornm/triviapot/internal/vault"
)

type Config struct {
	GRPC         *grpc.Server
	EventBus     *event.Bus
	Auth         *auth.Authenticator
	Session      *session.Service
	Round        *round.Service
	Leaderboard  *leaderboard.Service
	Settlement   *settlement.Service
	Redis        Redis
	PubsubPrefix string
	// Localnet enables the faucet and wallet-signing routes. Nil in production.
	Localnet *vault.Program
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type API struct {
	ss   *session.Service
	rs   *round.Service
	ls   *leaderboard.Service
	sts  *settlement.Service
	auth *auth.Authenticator

	localnet *vault.Program

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		ss:       c.Session,
		rs:       c.Round,
		ls:       c.Leaderboard,
		sts:      c.Settlement,
		auth:     c.Auth,
		localnet: c.Localnet,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	// gRPC APIs
	if c.GRPC != nil {
		RegisterRoundServiceServer(c.GRPC, a)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameRoundSettled, func(ctx context.Context, e event.Event) error {
		return a.PublishRoundSettled(ctx, e.(domain.EventRoundSettled))
	})

	return a
}

func player(ctx context.Context) (auth.Player, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Player{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("bearer token required"))
	}

	return p, nil
}

func (a *API) Start(ctx context.Context, req *StartRequest) (*StartResponse, error) {
	p, err := player(ctx)
	if err != nil {
		return nil, err
	}

	// Entry signatures are public on the ledger, so only the token's wallet may redeem one.
	if req.Wallet != "" && req.Wallet != p.Wallet {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("wallet %s is not bound to player %s", req.Wallet, p.ID),
		)
	}

	resp, err := a.ss.Start(ctx, session.StartRequest{
		PlayerID:     p.ID,
		Wallet:       p.Wallet,
		Mode:         domain.Mode(req.Mode),
		PaymentProof: req.PaymentProof,
		RoundID:      req.RoundID,
		GameID:       req.GameID,
	})
	if err != nil {
		return nil, err
	}

	return &StartResponse{Session: toSession(resp.Session), Resumed: resp.Resumed}, nil
}

func (a *API) GetQuestions(ctx context.Context, req *GetQuestionsRequest) (*GetQuestionsResponse, error) {
	p, err := player(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := a.ss.GetQuestions(ctx, session.GetQuestionsRequest{SessionID: req.SessionID, PlayerID: p.ID})
	if err != nil {
		return nil, err
	}

	return toGetQuestions(resp), nil
}

func (a *API) SubmitAnswer(ctx context.Context, req *SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	p, err := player(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := a.ss.SubmitAnswer(ctx, session.SubmitAnswerRequest{
		SessionID:      req.SessionID,
		PlayerID:       p.ID,
		QuestionIndex:  req.QuestionIndex,
		SelectedOption: req.SelectedOption,
		TimeExpired:    req.TimeExpired,
		ElapsedMS:      req.ElapsedMS,
	})
	if err != nil {
		return nil, err
	}

	return &SubmitAnswerResponse{
		Answer:          toAnswer(resp.Answer),
		Duplicate:       resp.Duplicate,
		IsLastInBlock:   resp.IsLastInBlock,
		IsLastInSession: resp.IsLastInSession,
	}, nil
}

func (a *API) Complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error) {
	p, err := player(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := a.ss.Complete(ctx, session.CompleteRequest{
		SessionID:      req.SessionID,
		PlayerID:       p.ID,
		FinalScore:     req.FinalScore,
		FinalCorrect:   req.FinalCorrect,
		TotalElapsedMS: req.TotalElapsedMS,
	})
	if err != nil {
		return nil, err
	}

	return &CompleteResponse{Session: toSession(resp.Session), Rank: resp.Rank}, nil
}

func (a *API) CheckEntry(ctx context.Context, _ *CheckEntryRequest) (*CheckEntryResponse, error) {
	p, err := player(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := a.ss.CheckEntry(ctx, session.CheckEntryRequest{PlayerID: p.ID})
	if err != nil {
		return nil, err
	}

	return &CheckEntryResponse{Round: toRound(resp.Round), EntriesLeft: resp.EntriesLeft}, nil
}

func (a *API) CurrentRound(ctx context.Context, _ *CurrentRoundRequest) (*CurrentRoundResponse, error) {
	info, err := a.rs.CurrentInfo(ctx)
	if err != nil {
		return nil, err
	}

	return toCurrentRound(info), nil
}

func (a *API) GetLeaderboard(ctx context.Context, req *GetLeaderboardRequest) (*GetLeaderboardResponse, error) {
	roundID := req.RoundID
	if req.Round != "" {
		k, err := roundid.Parse(req.Round)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err))
		}
		if roundID != 0 && roundID != k.ID() {
			return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("round %s does not match round_id %d", req.Round, roundID))
		}
		roundID = k.ID()
	}

	l, err := a.ls.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		RoundID: roundID,
		Period:  domain.Period(req.Period),
		Limit:   req.Limit,
	})
	if err != nil {
		return nil, err
	}

	return &GetLeaderboardResponse{Leaderboard: toLeaderboard(*l)}, nil
}

func (a *API) GetRoundPayouts(ctx context.Context, req *GetRoundPayoutsRequest) (*GetRoundPayoutsResponse, error) {
	ps, err := a.sts.GetRoundPayouts(ctx, settlement.GetRoundPayoutsRequest{RoundIDs: req.RoundIDs})
	if err != nil {
		return nil, err
	}

	return &GetRoundPayoutsResponse{Payouts: toPayouts(ps)}, nil
}

// toError maps any error returned by a handler to an *errors.Error. Internal causes are logged and not exposed.
func toError(ctx context.Context, op string, err error) *errors.Error {
	var (
		e  *errors.Error
		pe *vault.ProgramError
	)
	switch {
	case stderrors.As(err, &e):
	case stderrors.As(err, &pe):
		e = errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonProgramError),
			errors.WithMessagef("%s", pe.Error()),
			errors.WithCause(err),
		)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		e = errors.New(errors.CodeUnavailable, errors.WithMessagef("%s", err.Error()), errors.WithCause(err))
	default:
		e = errors.Internal(err)
	}

	if e.Code == errors.CodeInternal {
		slog.ErrorContext(ctx, "api: internal error", "op", op, "error", err)
	}

	return e
}
