package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/tutor-core/internal/shared"
)

// CompleteMethod is the full gRPC method name of the model service.
const CompleteMethod = "/tutor.v1.ModelService/Complete"

// GrpcClient calls a model service over gRPC. Requests and responses are
// google.protobuf.Struct messages: {"prompt": string} in, {"text": string} out.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGrpcClient connects to the model service at addr.
func NewGrpcClient(ctx context.Context, addr string, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := shared.DialGRPC(ctx, shared.DefaultGRPCConfig(addr), opts...)
	if err != nil {
		return nil, fmt.Errorf("model service: %w", err)
	}
	logger.Info("Connected to model service", "address", addr)
	return &GrpcClient{conn: conn, addr: addr, logger: logger}, nil
}

// Complete implements Completer.
func (c *GrpcClient) Complete(ctx context.Context, prompt string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{"prompt": prompt})
	if err != nil {
		return "", wrap("model-grpc", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, CompleteMethod, req, resp); err != nil {
		c.logger.Warn("model service call failed", "address", c.addr, "error", err)
		return "", wrap("model-grpc", err)
	}
	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", wrap("model-grpc", errors.New("response has no text field"))
	}
	return text.GetStringValue(), nil
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close gRPC connection", "error", err)
	}
}
