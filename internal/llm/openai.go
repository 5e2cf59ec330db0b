package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// KeySource resolves the API key of the model service.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a key known at startup.
type StaticKey string

// APIKey returns the key.
func (k StaticKey) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(k)) == "" {
		return "", errors.New("llm: api key is empty")
	}
	return string(k), nil
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	model   string
	baseURL string
	keys    KeySource

	once   sync.Once
	client *openai.Client
	keyErr error
}

// NewOpenAI returns a completer for model. baseURL may be empty for the
// public OpenAI endpoint. The key is resolved on the first call and cached
// for the lifetime of the process.
func NewOpenAI(model, baseURL string, keys KeySource) (*OpenAI, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("llm: model must not be empty")
	}
	if keys == nil {
		return nil, errors.New("llm: key source must not be nil")
	}
	return &OpenAI{model: model, baseURL: strings.TrimSpace(baseURL), keys: keys}, nil
}

func (o *OpenAI) resolveClient(ctx context.Context) (*openai.Client, error) {
	o.once.Do(func() {
		key, err := o.keys.APIKey(ctx)
		if err != nil {
			o.keyErr = err
			return
		}
		cfg := openai.DefaultConfig(key)
		if o.baseURL != "" {
			cfg.BaseURL = o.baseURL
		}
		o.client = openai.NewClientWithConfig(cfg)
	})
	return o.client, o.keyErr
}

// Complete sends prompt as a single user message.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	client, err := o.resolveClient(ctx)
	if err != nil {
		return "", wrap("openai", err)
	}
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", wrap("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", wrap("openai", errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}
