package plugins

import (
	"context"
	"sync/atomic"
)

// AutoSeen marks inbound messages as read. Disabled by default; toggled by
// the AUTO_SEEN config knob, including at runtime via hot reload.
type AutoSeen struct {
	enabled atomic.Bool
}

func NewAutoSeen(enabled bool) *AutoSeen {
	a := &AutoSeen{}
	a.enabled.Store(enabled)
	return a
}

func (a *AutoSeen) Name() string { return "autoseen" }

// SetEnabled toggles the plugin without re-registering it.
func (a *AutoSeen) SetEnabled(on bool) { a.enabled.Store(on) }

func (a *AutoSeen) HandleMessage(ctx context.Context, conn Conn, msg Message) error {
	if !a.enabled.Load() || msg.FromMe {
		return nil
	}
	return conn.MarkRead(ctx, msg)
}
