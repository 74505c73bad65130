// Package plugins is the extension point for inbound message handling.
// Plugins are registered by the embedding application at construction time
// (no filesystem scanning); each inbound message fans out to every plugin,
// and a failing or panicking plugin never disturbs the others.
package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Message is one inbound message, decoupled from the protocol library's
// event types.
type Message struct {
	ID        string
	Chat      string
	Sender    string
	Text      string
	Timestamp time.Time
	FromMe    bool
}

// Conn is the connected session handle a plugin may act through.
type Conn interface {
	SendText(ctx context.Context, toJID, text string) error
	MarkRead(ctx context.Context, msg Message) error
}

// Plugin handles one inbound message.
type Plugin interface {
	Name() string
	HandleMessage(ctx context.Context, conn Conn, msg Message) error
}

// Registry is an ordered list of plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

func NewRegistry(plugins ...Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// Register appends a plugin.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Dispatch runs every plugin against msg. Errors and panics are logged per
// plugin and isolated: one bad plugin never aborts the shared path.
func (r *Registry) Dispatch(ctx context.Context, conn Conn, msg Message) {
	r.mu.RLock()
	list := make([]Plugin, len(r.plugins))
	copy(list, r.plugins)
	r.mu.RUnlock()

	for _, p := range list {
		if err := runIsolated(ctx, p, conn, msg); err != nil {
			slog.Warn("plugin failed", "plugin", p.Name(), "message", msg.ID, "error", err)
		}
	}
}

func runIsolated(ctx context.Context, p Plugin, conn Conn, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.HandleMessage(ctx, conn, msg)
}
