package toolkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"forgecore/internal/errs"
	"forgecore/internal/logging"
)

// Registry holds every tool a sandboxed artifact may call, keyed by name
// and indexed by Category. Thread-safe and open to runtime registration,
// mirroring the teacher's internal/tools/registry.go exactly.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*Tool
	byCategory map[Category][]*Tool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]*Tool),
		byCategory: make(map[Category][]*Tool),
	}
}

// Register adds a tool, rejecting a duplicate name or a malformed Tool.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", errs.ErrToolAlreadyRegistered, tool.Name)
	}
	if tool.Priority == 0 {
		tool.Priority = 50
	}

	r.tools[tool.Name] = tool
	r.byCategory[tool.Category] = append(r.byCategory[tool.Category], tool)
	logging.ToolkitDebug("registered tool: %s (category=%s, priority=%d)", tool.Name, tool.Category, tool.Priority)
	return nil
}

// MustRegister registers a tool and panics on error. Use only for static
// registration at process init time.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("toolkit: failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if unregistered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// GetByCategory returns every tool in category, sorted by priority descending.
func (r *Registry) GetByCategory(category Category) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, len(r.byCategory[category]))
	copy(tools, r.byCategory[category])
	sort.Slice(tools, func(i, j int) bool { return tools[i].Priority > tools[j].Priority })
	return tools
}

// All returns every registered tool.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute looks up a tool by name and runs it, wrapping errs.ErrToolNotFound
// if name isn't registered.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrToolNotFound, name)
	}
	return r.ExecuteTool(ctx, tool, args)
}

// ExecuteTool runs a specific tool, validating required arguments first.
func (r *Registry) ExecuteTool(ctx context.Context, tool *Tool, args map[string]any) (*ToolResult, error) {
	start := time.Now()
	if err := r.validateArgs(tool, args); err != nil {
		return &ToolResult{ToolName: tool.Name, Error: err, DurationMs: time.Since(start).Milliseconds()}, err
	}

	logging.ToolkitDebug("executing tool: %s", tool.Name)
	out, err := tool.Execute(ctx, args)
	duration := time.Since(start)
	logging.ToolkitDebug("tool %s completed in %v (success=%v)", tool.Name, duration, err == nil)

	return &ToolResult{ToolName: tool.Name, Result: out, Error: err, DurationMs: duration.Milliseconds()}, err
}

func (r *Registry) validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", errs.ErrMissingRequiredArg, required)
		}
	}
	return nil
}
