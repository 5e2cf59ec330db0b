package profile

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/store"
)

func TestStoreServiceReadsAccessibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := store.NewMemory()
	now := time.Now()

	require.NoError(t, repo.UpsertUser(ctx, &domain.User{UserID: "u1", Username: "ana", CreatedAt: now, UpdatedAt: now, LastSeenAt: now}))
	require.NoError(t, repo.SetAccessibility(ctx, "u1", true))

	svc := NewStoreService(repo)
	p, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.True(t, p.Accessibility)
	require.Equal(t, "ana", p.DisplayName)

	_, err = svc.GetProfile(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGrpcServiceGetProfile(t *testing.T) {
	t.Parallel()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "tutor.v1.ProfileService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "GetProfile",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				uid := in.GetFields()["user_id"].GetStringValue()
				return structpb.NewStruct(map[string]any{"accessibility": uid == "blind-user", "display_name": "Sam"})
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	svc, err := NewGrpcService(context.Background(), "passthrough:///bufnet", nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	p, err := svc.GetProfile(context.Background(), "blind-user")
	require.NoError(t, err)
	require.True(t, p.Accessibility)
	require.Equal(t, "Sam", p.DisplayName)
}
