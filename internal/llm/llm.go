// Package llm adapts external language-model services to the Completer
// interface used by the workflows.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExternalService marks failures of an external collaborator, including
// timeouts. Every adapter error matches it with errors.Is.
var ErrExternalService = errors.New("external service error")

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ServiceError wraps a collaborator failure.
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is makes every ServiceError match ErrExternalService.
func (e *ServiceError) Is(target error) bool {
	return target == ErrExternalService
}

func wrap(service string, err error) error {
	if err == nil || errors.Is(err, ErrExternalService) {
		return err
	}
	return &ServiceError{Service: service, Err: err}
}

// Timeout bounds every call of the wrapped completer.
type Timeout struct {
	next    Completer
	timeout time.Duration
}

// WithTimeout returns c with each call limited to d. A non-positive d
// returns c unchanged.
func WithTimeout(c Completer, d time.Duration) Completer {
	if d <= 0 {
		return c
	}
	return &Timeout{next: c, timeout: d}
}

// Complete calls the wrapped completer under a deadline.
func (t *Timeout) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.next.Complete(ctx, prompt)
	if err != nil {
		return "", wrap("model", err)
	}
	return out, nil
}

// Func adapts a function to Completer.
type Func func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
