package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/session"
)

// Client calls RoundService. Errors are returned as *errors.Error.
type Client struct {
	conn grpc.ClientConnInterface
}

// Dial connects to a RoundService server. Callers close the returned connection.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("api: dial %s: %w", target, err)
	}

	return NewClient(conn), conn, nil
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, FullMethod(method), req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, errors.FromGRPC(err)
	}

	return out, nil
}

func (c *Client) Start(ctx context.Context, req *StartRequest) (*StartResponse, error) {
	return invoke[StartResponse](ctx, c, "Start", req)
}

func (c *Client) CheckEntry(ctx context.Context, req *CheckEntryRequest) (*CheckEntryResponse, error) {
	return invoke[CheckEntryResponse](ctx, c, "CheckEntry", req)
}

func (c *Client) CurrentRound(ctx context.Context, req *CurrentRoundRequest) (*CurrentRoundResponse, error) {
	return invoke[CurrentRoundResponse](ctx, c, "CurrentRound", req)
}

func (c *Client) GetLeaderboard(ctx context.Context, req *GetLeaderboardRequest) (*GetLeaderboardResponse, error) {
	return invoke[GetLeaderboardResponse](ctx, c, "GetLeaderboard", req)
}

func (c *Client) GetRoundPayouts(ctx context.Context, req *GetRoundPayoutsRequest) (*GetRoundPayoutsResponse, error) {
	return invoke[GetRoundPayoutsResponse](ctx, c, "GetRoundPayouts", req)
}

// Session adapts the client to the session request and response types used by a coordinator.
// The player is identified by the bearer token, so PlayerID fields are ignored.
func (c *Client) Session() *SessionClient {
	return &SessionClient{c: c}
}

type SessionClient struct {
	c *Client
}

func (s *SessionClient) GetQuestions(ctx context.Context, req session.GetQuestionsRequest) (*session.GetQuestionsResponse, error) {
	resp, err := invoke[GetQuestionsResponse](ctx, s.c, "GetQuestions", &GetQuestionsRequest{SessionID: req.SessionID})
	if err != nil {
		return nil, err
	}

	return fromGetQuestions(resp), nil
}

func (s *SessionClient) SubmitAnswer(ctx context.Context, req session.SubmitAnswerRequest) (*session.SubmitAnswerResponse, error) {
	resp, err := invoke[SubmitAnswerResponse](ctx, s.c, "SubmitAnswer", &SubmitAnswerRequest{
		SessionID:      req.SessionID,
		QuestionIndex:  req.QuestionIndex,
		SelectedOption: req.SelectedOption,
		TimeExpired:    req.TimeExpired,
		ElapsedMS:      req.ElapsedMS,
	})
	if err != nil {
		return nil, err
	}

	return &session.SubmitAnswerResponse{
		Answer:          fromAnswer(resp.Answer),
		Duplicate:       resp.Duplicate,
		IsLastInBlock:   resp.IsLastInBlock,
		IsLastInSession: resp.IsLastInSession,
	}, nil
}

func (s *SessionClient) Complete(ctx context.Context, req session.CompleteRequest) (*session.CompleteResponse, error) {
	resp, err := invoke[CompleteResponse](ctx, s.c, "Complete", &CompleteRequest{
		SessionID:      req.SessionID,
		FinalScore:     req.FinalScore,
		FinalCorrect:   req.FinalCorrect,
		TotalElapsedMS: req.TotalElapsedMS,
	})
	if err != nil {
		return nil, err
	}

	return &session.CompleteResponse{Session: fromSession(resp.Session), Rank: resp.Rank}, nil
}
