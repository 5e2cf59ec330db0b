package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/tutor-core/internal/prompts"
)

func TestTimeoutWrapsSlowCalls(t *testing.T) {
	t.Parallel()

	slow := Func(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := WithTimeout(slow, 10*time.Millisecond).Complete(context.Background(), "hi")
	require.ErrorIs(t, err, ErrExternalService)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutPassesThroughResults(t *testing.T) {
	t.Parallel()

	fast := Func(func(context.Context, string) (string, error) { return "ok", nil })
	out, err := WithTimeout(fast, time.Second).Complete(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "ok", out)

	_, wrapped := WithTimeout(fast, 0).(*Timeout)
	require.False(t, wrapped)
}

func TestEchoAnswersStructuredTasks(t *testing.T) {
	t.Parallel()
	catalog := prompts.Default()

	prompt, err := catalog.Render("narration.classify", map[string]any{"Block": `A "quoted" line.`})
	require.NoError(t, err)
	out, err := NewEcho().Complete(context.Background(), prompt)
	require.NoError(t, err)

	var block struct{ Type, Text string }
	require.NoError(t, json.Unmarshal([]byte(out), &block))
	require.Equal(t, "paragraph", block.Type)
	require.Equal(t, `A "quoted" line.`, block.Text)
}

type fakeSSM struct {
	value string
	err   error
	name  string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.name = *in.Name
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: &f.value}}, nil
}

func TestParamStoreKey(t *testing.T) {
	t.Parallel()

	fake := &fakeSSM{value: " sk-test \n"}
	src, err := NewParamStoreKey(fake, "/tutor/model-key")
	require.NoError(t, err)

	key, err := src.APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-test", key)
	require.Equal(t, "/tutor/model-key", fake.name)

	_, err = NewParamStoreKey(fake, " ")
	require.Error(t, err)
}

func TestOpenAICompletes(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "echo " + req.Messages[0].Content}}},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAI("test-model", srv.URL, StaticKey("sk-abc"))
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "echo hello", out)
	require.Equal(t, "Bearer sk-abc", gotAuth)
}

func TestOpenAIFailuresAreExternal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewOpenAI("test-model", srv.URL, StaticKey("sk-abc"))
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "hello")
	require.ErrorIs(t, err, ErrExternalService)

	_, err = NewOpenAI("", "", StaticKey("k"))
	require.Error(t, err)
}

func startModelServer(t *testing.T, handle func(prompt string) (string, error)) *GrpcClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "tutor.v1.ModelService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Complete",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				text, err := handle(in.GetFields()["prompt"].GetStringValue())
				if err != nil {
					return nil, err
				}
				return structpb.NewStruct(map[string]any{"text": text})
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGrpcClient(context.Background(), "passthrough:///bufnet", nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestGrpcClientCompletes(t *testing.T) {
	t.Parallel()

	client := startModelServer(t, func(p string) (string, error) { return "grpc:" + p, nil })
	out, err := client.Complete(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "grpc:hi", out)
}

func TestGrpcClientErrorsAreExternal(t *testing.T) {
	t.Parallel()

	client := startModelServer(t, func(string) (string, error) { return "", errors.New("model down") })
	_, err := client.Complete(context.Background(), "hi")
	require.ErrorIs(t, err, ErrExternalService)
}
