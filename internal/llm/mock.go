package llm

import (
	"context"
	"io"
	"strings"
	"sync"
)

// MockModel returns scripted responses for tests and offline runs.
type MockModel struct {
	// Respond builds the response for a call. When nil, Responses are returned in order and
	// the last one repeats.
	Respond   func(messages []Message) (string, error)
	Responses []string

	mu    sync.Mutex
	calls [][]Message
}

// NewMockModel creates a mock returning responses in order.
func NewMockModel(responses ...string) *MockModel {
	return &MockModel{Responses: responses}
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.mu.Unlock()
	if m.Respond != nil {
		return m.Respond(messages)
	}
	if len(m.Responses) == 0 {
		return "", ErrEmptyResponse
	}
	if n >= len(m.Responses) {
		n = len(m.Responses) - 1
	}
	return m.Responses[n], nil
}

// Stream implements Model by splitting the generated text into words.
func (m *MockModel) Stream(ctx context.Context, messages []Message, opts Options) (*Stream, error) {
	text, err := m.Generate(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitAfter(text, " ")
	return NewStream(func() (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if len(parts) == 0 {
			return "", io.EOF
		}
		p := parts[0]
		parts = parts[1:]
		return p, nil
	}, nil), nil
}

// Calls returns the messages of every call so far.
func (m *MockModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// CallCount returns the number of calls so far.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
