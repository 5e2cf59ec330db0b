// Package llmtest provides a scripted model for workflow tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/tutor-core/internal/prompts"
)

// Script answers prompts by task ID from queued responses. The last response
// of a task is repeated once its queue is drained.
type Script struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	calls     []Call
}

// Call records one completion request.
type Call struct {
	Task    string
	Payload string
	Prompt  string
}

// NewScript returns an empty script.
func NewScript() *Script {
	return &Script{responses: make(map[string][]string), errs: make(map[string]error)}
}

// On queues responses for task.
func (s *Script) On(task string, responses ...string) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[task] = append(s.responses[task], responses...)
	return s
}

// Fail makes every call for task return err.
func (s *Script) Fail(task string, err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[task] = err
	return s
}

// Complete implements llm.Completer.
func (s *Script) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	task, payload := prompts.Task(prompt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Task: task, Payload: payload, Prompt: prompt})
	if err := s.errs[task]; err != nil {
		return "", err
	}
	queue := s.responses[task]
	switch len(queue) {
	case 0:
		return "", fmt.Errorf("llmtest: no response scripted for %q", task)
	case 1:
		return queue[0], nil
	}
	s.responses[task] = queue[1:]
	return queue[0], nil
}

// Calls returns the recorded calls.
func (s *Script) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsFor returns the recorded calls of task.
func (s *Script) CallsFor(task string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Task == task {
			out = append(out, c)
		}
	}
	return out
}
