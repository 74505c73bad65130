// Package session implements the pairing lifecycle as an explicit state
// machine: one session per phone number, driven by discrete protocol client
// events, with bounded waits for code issuance and connection open.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/creds"
)

// Config carries the manager's tunables.
type Config struct {
	// CodeTimeout bounds the wait for code issuance. Default 60s.
	CodeTimeout time.Duration
	// ConnectTimeout bounds the wait for connection open after the code
	// was issued. Default 120s.
	ConnectTimeout time.Duration
	// SendSession delivers the exported credential blob back to the
	// freshly paired number after connect.
	SendSession bool
}

// DefaultConfig returns the stock timeouts.
func DefaultConfig() Config {
	return Config{
		CodeTimeout:    60 * time.Second,
		ConnectTimeout: 120 * time.Second,
		SendSession:    true,
	}
}

// StatusInfo is the read-only view returned by Status.
type StatusInfo struct {
	// Exists reports a persisted credential record, which may predate
	// this process.
	Exists bool
	// Active reports an in-flight pairing session.
	Active bool
	// State is the live session's state when Active.
	State State
}

// Manager owns the registry of in-flight pairing sessions and drives each
// one through the lifecycle. Safe for concurrent use.
type Manager struct {
	factory ClientFactory
	store   creds.Store
	events  *bus.Bus

	cfgMu sync.RWMutex
	cfg   Config

	mu     sync.Mutex
	active map[string]*Session

	// connected keeps live clients after a successful pairing so inbound
	// messages continue to flow to plugins. Released by Shutdown.
	connMu    sync.Mutex
	connected map[string]ProtocolClient
}

// NewManager wires the manager to its collaborators. events may be nil when
// no subscriber surface is attached.
func NewManager(factory ClientFactory, store creds.Store, events *bus.Bus, cfg Config) *Manager {
	if cfg.CodeTimeout <= 0 {
		cfg.CodeTimeout = DefaultConfig().CodeTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	return &Manager{
		factory:   factory,
		store:     store,
		events:    events,
		cfg:       cfg,
		active:    make(map[string]*Session),
		connected: make(map[string]ProtocolClient),
	}
}

// SetTimeouts applies new bounds to sessions started after the call.
// Used by config hot reload.
func (m *Manager) SetTimeouts(code, connect time.Duration) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if code > 0 {
		m.cfg.CodeTimeout = code
	}
	if connect > 0 {
		m.cfg.ConnectTimeout = connect
	}
}

func (m *Manager) config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// Begin validates the number, claims the per-number session slot, drives the
// attempt until a code is issued, and returns it. The call blocks the caller
// (never other sessions) until the code arrives or CodeTimeout elapses.
//
// A second Begin for the same number while one is in flight returns the live
// session's outcome with a SessionAlreadyActive error instead of opening a
// second protocol connection.
func (m *Manager) Begin(ctx context.Context, rawNumber string, mode Mode) (Outcome, error) {
	number, err := NormalizeNumber(rawNumber)
	if err != nil {
		return Outcome{Number: rawNumber}, err
	}
	if mode == "" {
		mode = ModeCode
	}

	cfg := m.config()
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Number:    number,
		Mode:      mode,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.CodeTimeout),
		state:     StateConnecting,
		codeCh:    make(chan string, 1),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if existing, ok := m.active[number]; ok {
		m.mu.Unlock()
		return existing.outcome(), NewError(KindSessionAlreadyActive,
			"a pairing session is already in flight for this number", nil)
	}
	m.active[number] = sess
	m.mu.Unlock()

	m.publish(sess, "")
	slog.Info("pairing session started", "number", number, "mode", mode, "session", sess.ID)

	client, err := m.factory.NewClient(ctx, number, mode)
	if err != nil {
		serr := NewError(KindClientConstruction, "protocol client construction failed", err)
		m.finish(sess, StateFailed, serr)
		return sess.outcome(), serr
	}
	sess.client = client

	go m.run(sess, cfg)

	select {
	case code := <-sess.codeCh:
		out := sess.outcome()
		out.Code = code
		return out, nil
	case <-sess.done:
		out := sess.outcome()
		// Post-connect persist or delivery failures are non-fatal: the
		// session is connected and the warning rides on the outcome.
		if serr := sess.Err(); serr != nil && out.State != StateConnected {
			return out, serr
		}
		return out, nil
	case <-ctx.Done():
		// Caller gave up; the session keeps running until its own
		// deadline so a retry can observe it.
		return sess.outcome(), ctx.Err()
	}
}

// run drives one session from connect to a terminal state. It is the only
// goroutine that consumes the client's event stream.
func (m *Manager) run(sess *Session, cfg Config) {
	ctx := context.Background()

	if err := sess.client.Connect(ctx); err != nil {
		serr := NewError(KindClientConstruction, "protocol connect failed", err)
		sess.client.Disconnect()
		m.finish(sess, StateFailed, serr)
		return
	}

	if sess.setState(StateAwaitingCode) {
		m.publish(sess, "")
	}

	if sess.Mode == ModeCode {
		code, err := sess.client.RequestPairingCode(ctx, sess.Number)
		if err != nil {
			serr := NewError(KindClientConstruction, "pairing code request failed", err)
			sess.client.Disconnect()
			m.finish(sess, StateFailed, serr)
			return
		}
		if code != "" {
			m.issue(sess, code)
		}
		// code == "": this client variant pushes the code via an event.
	}

	codeTimer := time.NewTimer(cfg.CodeTimeout)
	defer codeTimer.Stop()
	var connectTimer *time.Timer
	connectDeadline := func() <-chan time.Time {
		if connectTimer == nil {
			return nil
		}
		return connectTimer.C
	}
	if sess.State() == StateCodeIssued {
		connectTimer = time.NewTimer(cfg.ConnectTimeout)
		defer connectTimer.Stop()
	}

	for {
		select {
		case ev, ok := <-sess.client.Events():
			if !ok {
				sess.client.Disconnect()
				m.finish(sess, StateFailed,
					NewError(KindClientConstruction, "protocol event stream ended", nil))
				return
			}
			switch ev.Kind {
			case EventQRCode, EventPairCode:
				if m.issue(sess, ev.Code) {
					if connectTimer == nil {
						codeTimer.Stop()
						connectTimer = time.NewTimer(cfg.ConnectTimeout)
						defer connectTimer.Stop()
					}
				} else if ev.Kind == EventQRCode && sess.refreshCode(ev.Code) {
					// Rotated QR payload; push it to subscribers.
					m.publish(sess, "")
					slog.Info("pairing code refreshed",
						"number", sess.Number, "session", sess.ID)
				}
			case EventOpen:
				m.completeConnected(ctx, sess)
				return
			case EventClosed:
				if ev.LoggedOut {
					// Stale or invalid session material; the record
					// must not satisfy /status anymore.
					if err := m.store.Delete(sess.Number); err != nil {
						slog.Warn("failed to delete invalid credential record",
							"number", sess.Number, "error", err)
					}
					sess.client.Disconnect()
					m.finish(sess, StateFailed,
						NewError(KindClosedUnauthenticated,
							"connection closed unauthenticated", ev.Err))
					return
				}
				// Transient close: the client reconnects on its own,
				// keep waiting within the deadline.
				slog.Debug("transient disconnect during pairing",
					"number", sess.Number, "error", ev.Err)
			}

		case <-codeTimer.C:
			if sess.State() == StateCodeIssued {
				// Raced with issuance; keep waiting for open.
				continue
			}
			sess.client.Disconnect()
			m.finish(sess, StateTimedOut,
				NewError(KindCodeTimeout, "no pairing code within deadline", nil))
			return

		case <-connectDeadline():
			sess.client.Disconnect()
			m.finish(sess, StateTimedOut,
				NewError(KindCodeTimeout, "connection did not open within deadline", nil))
			return
		}
	}
}

// issue records the issued code and wakes the Begin caller.
func (m *Manager) issue(sess *Session, code string) bool {
	if !sess.issueCode(code) {
		return false
	}
	m.publish(sess, "")
	slog.Info("pairing code issued", "number", sess.Number, "session", sess.ID)
	return true
}

// completeConnected persists credentials, optionally delivers the session
// blob back to the paired number, and terminates the session as connected.
// Persist and delivery failures are reported but do not revert the state.
func (m *Manager) completeConnected(ctx context.Context, sess *Session) {
	rec := &creds.Record{
		JID:      sess.client.JID(),
		Platform: "whatsmeow",
		PairedAt: time.Now(),
	}
	var serr *Error
	if err := m.store.Save(sess.Number, rec); err != nil {
		serr = NewError(KindCredentialPersist, "credential persist failed", err)
		slog.Error("credential persist failed", "number", sess.Number, "error", err)
	} else if m.config().SendSession {
		if err := m.deliverSession(ctx, sess); err != nil {
			serr = NewError(KindDeliveryFailed, "session delivery failed", err)
			slog.Warn("session delivery failed", "number", sess.Number, "error", err)
		}
	}

	sess.mu.Lock()
	sess.state = StateConnected
	sess.lastErr = serr
	sess.mu.Unlock()

	m.connMu.Lock()
	if old, ok := m.connected[sess.Number]; ok {
		old.Disconnect()
	}
	m.connected[sess.Number] = sess.client
	m.connMu.Unlock()

	m.remove(sess)
	m.publish(sess, "")
	close(sess.done)
	slog.Info("pairing connected", "number", sess.Number, "jid", rec.JID, "session", sess.ID)
}

// deliverSession sends the exported base64 record to the number's own JID.
func (m *Manager) deliverSession(ctx context.Context, sess *Session) error {
	blob, err := m.store.Export(sess.Number)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return sess.client.SendText(sendCtx, sess.Number, blob)
}

// finish marks a failed or timed-out session terminal and releases its slot.
func (m *Manager) finish(sess *Session, state State, serr *Error) {
	if !sess.fail(state, serr) {
		return
	}
	m.remove(sess)
	m.publish(sess, serr.Error())
	close(sess.done)
	slog.Warn("pairing session terminated",
		"number", sess.Number, "state", state, "error", serr)
}

func (m *Manager) remove(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.active[sess.Number]; ok && cur == sess {
		delete(m.active, sess.Number)
	}
}

func (m *Manager) publish(sess *Session, errMsg string) {
	if m.events == nil {
		return
	}
	out := sess.outcome()
	m.events.Publish(bus.Event{
		Number: out.Number,
		State:  string(out.State),
		Code:   out.Code,
		Error:  errMsg,
	})
}

// AwaitConnection blocks until the number's in-flight session reaches a
// terminal state, then reports it. Used by the optional send-session-back
// surface and by tests.
func (m *Manager) AwaitConnection(ctx context.Context, rawNumber string) (Outcome, error) {
	number, err := NormalizeNumber(rawNumber)
	if err != nil {
		return Outcome{Number: rawNumber}, err
	}

	m.mu.Lock()
	sess, ok := m.active[number]
	m.mu.Unlock()
	if !ok {
		out := Outcome{Number: number}
		if m.store.Exists(number) {
			out.State = StateConnected
			return out, nil
		}
		return out, NewError(KindNoSession, "no session for this number", nil)
	}

	select {
	case <-sess.Done():
		out := sess.outcome()
		if serr := sess.Err(); serr != nil && out.State != StateConnected {
			return out, serr
		}
		return out, nil
	case <-ctx.Done():
		return sess.outcome(), ctx.Err()
	}
}

// Status reports whether a persisted credential record exists and whether a
// session is currently in flight. The record may predate this process.
func (m *Manager) Status(rawNumber string) (StatusInfo, error) {
	number, err := NormalizeNumber(rawNumber)
	if err != nil {
		return StatusInfo{}, err
	}
	info := StatusInfo{Exists: m.store.Exists(number)}
	m.mu.Lock()
	if sess, ok := m.active[number]; ok {
		info.Active = true
		info.State = sess.State()
	}
	m.mu.Unlock()
	return info, nil
}

// Cancel aborts the number's in-flight session, releasing the protocol
// handle before the session is marked terminal.
func (m *Manager) Cancel(rawNumber string) error {
	number, err := NormalizeNumber(rawNumber)
	if err != nil {
		return err
	}
	m.mu.Lock()
	sess, ok := m.active[number]
	m.mu.Unlock()
	if !ok {
		return NewError(KindNoSession, "no session for this number", nil)
	}
	sess.client.Disconnect()
	m.finish(sess, StateFailed, NewError(KindSessionCanceled, "canceled by caller", nil))
	return nil
}

// Shutdown disconnects every live client: in-flight sessions and connected
// post-pairing handles.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	active := make([]*Session, 0, len(m.active))
	for _, sess := range m.active {
		active = append(active, sess)
	}
	m.mu.Unlock()
	for _, sess := range active {
		if sess.client != nil {
			sess.client.Disconnect()
		}
		m.finish(sess, StateFailed, NewError(KindSessionCanceled, "server shutting down", nil))
	}

	m.connMu.Lock()
	for number, client := range m.connected {
		client.Disconnect()
		delete(m.connected, number)
	}
	m.connMu.Unlock()
}
