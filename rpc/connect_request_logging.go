package rpc

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
	"grindstone.dev/grindstone/proto"
)

// NewLoggingInterceptor logs each request at level and any failure as a
// warning. Batches are summarized by sender and size.
func NewLoggingInterceptor(logger *slog.Logger, level slog.Level) connect.UnaryInterceptorFunc {
	interceptor := func(next connect.UnaryFunc) connect.UnaryFunc {
		return connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			procedure := req.Spec().Procedure
			switch msg := req.Any().(type) {
			case *proto.Batch:
				logger.Log(ctx, level, "connect request", "procedure", procedure, "sender", msg.Sender.ID, "messages", len(msg.Envelopes))
			default:
				logger.Log(ctx, level, "connect request", "procedure", procedure, "msg", msg)
			}

			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn("connect request failed", "procedure", procedure, "code", connect.CodeOf(err), "err", err)
			}
			return resp, err
		})
	}

	return connect.UnaryInterceptorFunc(interceptor)
}
