package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "triviapot.v1.RoundService"

// Methods served without a bearer token.
var PublicMethods = []string{
	FullMethod("CurrentRound"),
	FullMethod("GetLeaderboard"),
	FullMethod("GetRoundPayouts"),
}

func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type RoundServiceServer interface {
	Start(context.Context, *StartRequest) (*StartResponse, error)
	GetQuestions(context.Context, *GetQuestionsRequest) (*GetQuestionsResponse, error)
	SubmitAnswer(context.Context, *SubmitAnswerRequest) (*SubmitAnswerResponse, error)
	Complete(context.Context, *CompleteRequest) (*CompleteResponse, error)
	CheckEntry(context.Context, *CheckEntryRequest) (*CheckEntryResponse, error)
	CurrentRound(context.Context, *CurrentRoundRequest) (*CurrentRoundResponse, error)
	GetLeaderboard(context.Context, *GetLeaderboardRequest) (*GetLeaderboardResponse, error)
	GetRoundPayouts(context.Context, *GetRoundPayoutsRequest) (*GetRoundPayoutsResponse, error)
}

var roundServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RoundServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Start", RoundServiceServer.Start),
		unary("GetQuestions", RoundServiceServer.GetQuestions),
		unary("SubmitAnswer", RoundServiceServer.SubmitAnswer),
		unary("Complete", RoundServiceServer.Complete),
		unary("CheckEntry", RoundServiceServer.CheckEntry),
		unary("CurrentRound", RoundServiceServer.CurrentRound),
		unary("GetLeaderboard", RoundServiceServer.GetLeaderboard),
		unary("GetRoundPayouts", RoundServiceServer.GetRoundPayouts),
	},
	Metadata: "triviapot/v1/round_service",
}

func RegisterRoundServiceServer(s grpc.ServiceRegistrar, srv RoundServiceServer) {
	s.RegisterService(&roundServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(RoundServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}

			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RoundServiceServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}

			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, handler)
		},
	}
}

// UnaryErrorInterceptor converts handler errors to gRPC statuses carrying an ErrorInfo detail.
func UnaryErrorInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return nil, toError(ctx, info.FullMethod, err).GRPCStatus().Err()
	}

	return resp, nil
}
