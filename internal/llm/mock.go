package llm

import (
	"context"
	"sync"
)

var _ Completer = (*MockCompleter)(nil)

// MockCompleter returns a fixed answer and records every request.
type MockCompleter struct {
	Answer string
	Err    error

	mu       sync.Mutex
	requests []CompletionRequest
}

// NewMockCompleter creates a mock that always answers with answer.
func NewMockCompleter(answer string) *MockCompleter {
	return &MockCompleter{Answer: answer}
}

// Name returns "mock".
func (m *MockCompleter) Name() string { return "mock" }

// Complete records req and returns the configured answer or error.
func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.requests = append(m.requests, CompletionRequest{
		Context:  append([]string(nil), req.Context...),
		Question: req.Question,
	})
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Answer, nil
}

// Calls returns the number of Complete calls.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockCompleter) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}
