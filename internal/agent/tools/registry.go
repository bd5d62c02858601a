// Package tools provides tool registry and execution for the Sleuth agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sleuth-dev/sleuth/internal/agent/provider"
)

const (
	// MaxToolResponseBytes is the maximum size of a tool response in bytes.
	// Responses larger than this will be truncated to prevent context overflow.
	// 50KB is a reasonable limit (~12,500 tokens at 4 chars/token).
	MaxToolResponseBytes = 50 * 1024
)

// truncatedData is used when tool output exceeds MaxToolResponseBytes.
// It preserves structure while indicating data was truncated.
type truncatedData struct {
	Truncated      bool   `json:"_truncated"`
	OriginalBytes  int    `json:"_original_bytes"`
	TruncatedBytes int    `json:"_truncated_bytes"`
	TruncationNote string `json:"_truncation_note"`
	PartialData    string `json:"partial_data"`
}

// truncateResult checks if the result data exceeds maxBytes and truncates it
// if necessary to prevent context overflow.
func truncateResult(result *Result, maxBytes int) *Result {
	if result == nil || result.Data == nil {
		return result
	}

	dataBytes, err := json.Marshal(result.Data)
	if err != nil {
		// If we can't marshal, return as-is and let the caller handle it
		return result
	}

	if len(dataBytes) <= maxBytes {
		return result
	}

	// Keep some of the original data for context (first ~80% of allowed bytes)
	partialDataBytes := maxBytes * 80 / 100
	partialData := string(dataBytes)
	if len(partialData) > partialDataBytes {
		partialData = partialData[:partialDataBytes]
	}

	truncated := &truncatedData{
		Truncated:      true,
		OriginalBytes:  len(dataBytes),
		TruncatedBytes: maxBytes,
		TruncationNote: fmt.Sprintf("Response truncated from %d to ~%d bytes to prevent context overflow. Consider using more specific filters to reduce result size.", len(dataBytes), maxBytes),
		PartialData:    partialData,
	}

	summary := result.Summary
	if summary != "" {
		summary = fmt.Sprintf("%s [TRUNCATED: %d→%d bytes]", summary, len(dataBytes), maxBytes)
	} else {
		summary = fmt.Sprintf("[TRUNCATED: %d→%d bytes]", len(dataBytes), maxBytes)
	}

	return &Result{
		Success:         result.Success,
		Data:            truncated,
		Error:           result.Error,
		Summary:         summary,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
}

// Tool defines the interface for agent tools.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description for the LLM.
	Description() string

	// InputSchema returns JSON Schema for input validation.
	InputSchema() map[string]interface{}

	// Execute runs the tool with given input.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result represents the output of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool `json:"success"`

	// Data contains the tool's output (tool-specific structure)
	Data interface{} `json:"data,omitempty"`

	// Error contains error details if Success is false
	Error string `json:"error,omitempty"`

	// Summary is a brief description of what happened (for display)
	Summary string `json:"summary,omitempty"`

	// ExecutionTimeMs is how long the tool took to run
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

// Registry manages tool registration and discovery.
type Registry struct {
	tools  map[string]Tool
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// register adds a tool to the registry (internal, no locking).
func (r *Registry) register(tool Tool) {
	r.tools[tool.Name()] = tool
	r.logger.Debug("registered tool", "name", tool.Name())
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(tool)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	return tools
}

// ToProviderTools converts registry tools to provider tool definitions.
func (r *Registry) ToProviderTools() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, provider.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return defs
}

// Execute runs a tool by name with the given input.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("tool %q not found", name),
		}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, input)
	if err != nil {
		return &Result{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	// Truncate result if it exceeds the maximum size to prevent context overflow
	result = truncateResult(result, MaxToolResponseBytes)

	return result
}

// FuncTool wraps a plain function as a Tool. Used to register provider
// adapters without a dedicated type per tool.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]interface{}
	Fn              func(ctx context.Context, input json.RawMessage) (*Result, error)
}

func (t *FuncTool) Name() string                        { return t.ToolName }
func (t *FuncTool) Description() string                 { return t.ToolDescription }
func (t *FuncTool) InputSchema() map[string]interface{} { return t.Schema }

func (t *FuncTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	return t.Fn(ctx, input)
}
