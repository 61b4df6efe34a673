package api_test

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/victornm/triviapot/internal/api"
	"github.com/victornm/triviapot/internal/auth"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/session"
	"github.com/victornm/triviapot/internal/vault"
)

// stubServer answers every call from the authenticated player's perspective.
type stubServer struct {
	api.RoundServiceServer
}

func (stubServer) Start(ctx context.Context, req *api.StartRequest) (*api.StartResponse, error) {
	p, _ := auth.FromContext(ctx)
	if req.Mode == "ranked" && req.PaymentProof == "" {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonPaymentRequired),
			errors.WithMetadata("round_id", "42"),
		)
	}

	return &api.StartResponse{Session: api.Session{SessionID: "s1", PlayerID: p.ID, Mode: req.Mode, TotalQuestions: 10}}, nil
}

func (stubServer) GetQuestions(_ context.Context, req *api.GetQuestionsRequest) (*api.GetQuestionsResponse, error) {
	return &api.GetQuestionsResponse{
		SessionID:   req.SessionID,
		TotalBlocks: 1,
		TimeLimitMS: 7000,
		Questions:   []api.Question{{Index: 0, QuestionID: "q0", Text: "?", Options: []string{"a", "b"}}},
	}, nil
}

func (stubServer) SubmitAnswer(_ context.Context, req *api.SubmitAnswerRequest) (*api.SubmitAnswerResponse, error) {
	if req.QuestionIndex != 0 {
		return nil, fmt.Errorf("session: %w", errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonQuestionIndexMismatch),
			errors.WithMetadata("expected_index", "0"),
		))
	}

	return &api.SubmitAnswerResponse{Answer: api.Answer{QuestionIndex: 0, Correct: true, Points: 550}, IsLastInBlock: true}, nil
}

func (stubServer) Complete(context.Context, *api.CompleteRequest) (*api.CompleteResponse, error) {
	return nil, fmt.Errorf("settle: %w", vault.ErrAlreadyFinalized)
}

func (stubServer) GetLeaderboard(_ context.Context, req *api.GetLeaderboardRequest) (*api.GetLeaderboardResponse, error) {
	return &api.GetLeaderboardResponse{Leaderboard: api.Leaderboard{RoundID: req.RoundID, Period: "round"}}, nil
}

func (stubServer) GetRoundPayouts(context.Context, *api.GetRoundPayoutsRequest) (*api.GetRoundPayoutsResponse, error) {
	return nil, fmt.Errorf("boom")
}

func makeClient(t *testing.T, token string) *api.Client {
	t.Helper()

	a, err := auth.New(auth.Config{Secret: "secret"})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		api.UnaryErrorInterceptor,
		a.UnaryServerInterceptor(api.PublicMethods...),
	))
	api.RegisterRoundServiceServer(srv, stubServer{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if token != "" {
		if token == "issue" {
			token, err = a.Issue(auth.Player{ID: "alice"})
			require.NoError(t, err)
		}
		opts = append(opts, grpc.WithPerRPCCredentials(auth.PerRPCCredentials{Token: token, Insecure: true}))
	}

	c, conn, err := api.Dial("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return c
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	c := makeClient(t, "issue")

	resp, err := c.Start(ctx, &api.StartRequest{Mode: "custom", GameID: "g-starter"})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Session.PlayerID)
	assert.Equal(t, 10, resp.Session.TotalQuestions)

	_, err = c.Start(ctx, &api.StartRequest{Mode: "ranked"})
	e := errors.Convert(err)
	assert.Equal(t, errors.CodeFailedPrecondition, e.Code)
	assert.Equal(t, errors.ReasonPaymentRequired, e.Reason)
	assert.Equal(t, "42", e.Metadata["round_id"])

	_, err = c.GetRoundPayouts(ctx, &api.GetRoundPayoutsRequest{RoundIDs: []uint64{1}})
	e = errors.Convert(err)
	assert.Equal(t, errors.CodeInternal, e.Code)
	assert.NotContains(t, e.Message, "boom")
}

func TestClient_Session(t *testing.T) {
	ctx := context.Background()
	s := makeClient(t, "issue").Session()

	qs, err := s.GetQuestions(ctx, session.GetQuestionsRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", qs.SessionID)
	assert.Equal(t, int64(7000), qs.TimeLimit.Milliseconds())
	require.Len(t, qs.Questions, 1)
	assert.Equal(t, "q0", qs.Questions[0].QuestionID)

	ans, err := s.SubmitAnswer(ctx, session.SubmitAnswerRequest{SessionID: "s1", QuestionIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(550), ans.Answer.Points)
	assert.True(t, ans.IsLastInBlock)

	_, err = s.SubmitAnswer(ctx, session.SubmitAnswerRequest{SessionID: "s1", QuestionIndex: 3})
	assert.ErrorIs(t, err, errors.ErrQuestionIndexMismatch)
	assert.Equal(t, "0", errors.Convert(err).Metadata["expected_index"])

	_, err = s.Complete(ctx, session.CompleteRequest{SessionID: "s1"})
	e := errors.Convert(err)
	assert.Equal(t, errors.ReasonProgramError, e.Reason)
	assert.Contains(t, e.Message, "custom program error: 0x1777")
}

func TestClient_Unauthenticated(t *testing.T) {
	ctx := context.Background()
	c := makeClient(t, "")

	_, err := c.Start(ctx, &api.StartRequest{Mode: "custom"})
	assert.Equal(t, errors.CodeUnauthenticated, errors.Convert(err).Code)

	resp, err := c.GetLeaderboard(ctx, &api.GetLeaderboardRequest{RoundID: 7})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resp.Leaderboard.RoundID)
}
