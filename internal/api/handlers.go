package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"alerttrader/internal/domain"
)

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return domain.Validationf("invalid request: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return domain.Validationf("invalid request: %v", err)
	}
	return nil
}

// codeFor maps an error kind to a gRPC status code.
func codeFor(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindAuth:
		return codes.Unauthenticated
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindNetwork:
		return codes.Unavailable
	case domain.KindBroker:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func statusFromError(err error) error {
	return status.Error(codeFor(domain.KindOf(err)), err.Error())
}

// loggingInterceptor logs every unary call with its duration and code.
func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info("grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}
