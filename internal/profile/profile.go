// Package profile provides the user-profile collaborator consulted by
// adaptive narration.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/shared"
)

// ErrNotFound is returned when no profile exists for a user.
var ErrNotFound = errors.New("profile not found")

// Service returns the profile of a user.
type Service interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// UserGetter is the part of the repository the store-backed service needs.
type UserGetter interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// StoreService reads profiles from the users table.
type StoreService struct {
	users UserGetter
}

// NewStoreService returns a Service backed by users.
func NewStoreService(users UserGetter) *StoreService {
	return &StoreService{users: users}
}

// GetProfile implements Service.
func (s *StoreService) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile %s: %w", userID, err)
	}
	if u == nil {
		return domain.Profile{}, fmt.Errorf("load profile %s: %w", userID, ErrNotFound)
	}
	return u.Profile(), nil
}

// GetProfileMethod is the full gRPC method name of the profile service.
const GetProfileMethod = "/tutor.v1.ProfileService/GetProfile"

// GrpcService asks a remote profile service over gRPC using
// google.protobuf.Struct messages: {"user_id"} in,
// {"accessibility", "display_name"} out.
type GrpcService struct {
	conn   *grpc.ClientConn
	logger *slog.Logger
}

// NewGrpcService connects to the profile service at addr.
func NewGrpcService(ctx context.Context, addr string, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := shared.DialGRPC(ctx, shared.DefaultGRPCConfig(addr), opts...)
	if err != nil {
		return nil, fmt.Errorf("profile service: %w", err)
	}
	logger.Info("Connected to profile service", "address", addr)
	return &GrpcService{conn: conn, logger: logger}, nil
}

// GetProfile implements Service.
func (g *GrpcService) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	req, err := structpb.NewStruct(map[string]any{"user_id": userID})
	if err != nil {
		return domain.Profile{}, err
	}
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GetProfileMethod, req, resp); err != nil {
		return domain.Profile{}, &llm.ServiceError{Service: "profile-grpc", Err: err}
	}
	fields := resp.GetFields()
	return domain.Profile{
		UserID:        userID,
		Accessibility: fields["accessibility"].GetBoolValue(),
		DisplayName:   fields["display_name"].GetStringValue(),
	}, nil
}

// Close closes the gRPC connection.
func (g *GrpcService) Close() {
	if err := g.conn.Close(); err != nil {
		g.logger.Warn("failed to close gRPC connection", "error", err)
	}
}
