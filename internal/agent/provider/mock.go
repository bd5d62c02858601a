package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider replays a scripted sequence of responses. It is used by the
// state machine tests and by the CLI's --model mock mode.
type MockProvider struct {
	mu        sync.Mutex
	responses []*Response
	index     int

	// Calls records every Chat invocation for assertions.
	Calls []MockCall
}

// MockCall captures the arguments of one Chat invocation.
type MockCall struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
}

// NewMockProvider creates a provider that returns the given responses in
// order. Once exhausted it returns a plain end_turn response.
func NewMockProvider(responses ...*Response) *MockProvider {
	return &MockProvider{responses: responses}
}

// Chat implements Provider.Chat.
func (p *MockProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, MockCall{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        tools,
	})

	if p.index >= len(p.responses) {
		return &Response{
			Content:    fmt.Sprintf("mock: scenario exhausted after %d responses", len(p.responses)),
			StopReason: StopReasonEndTurn,
		}, nil
	}

	resp := p.responses[p.index]
	p.index++
	return resp, nil
}

// Name implements Provider.Name.
func (p *MockProvider) Name() string { return "mock" }

// Model implements Provider.Model.
func (p *MockProvider) Model() string { return "mock" }
