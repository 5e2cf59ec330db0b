package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by ParamStoreKey.
// *ssm.Client satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParamStoreKey reads the API key from an SSM SecureString parameter.
type ParamStoreKey struct {
	api  ssmAPI
	name string
}

// NewParamStoreKey returns a key source for the parameter name.
func NewParamStoreKey(api ssmAPI, name string) (*ParamStoreKey, error) {
	if api == nil {
		return nil, errors.New("llm: ssm api must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("llm: parameter name is required")
	}
	return &ParamStoreKey{api: api, name: name}, nil
}

// APIKey fetches and decrypts the parameter.
func (p *ParamStoreKey) APIKey(ctx context.Context) (string, error) {
	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &p.name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("llm: get parameter %q: %w", p.name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("llm: parameter missing value")
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}
