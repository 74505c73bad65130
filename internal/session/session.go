package session

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// State is a position in the pairing lifecycle.
type State string

const (
	StateConnecting   State = "connecting"
	StateAwaitingCode State = "awaiting_code"
	StateCodeIssued   State = "code_issued"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
	StateTimedOut     State = "timed_out"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateConnected || s == StateFailed || s == StateTimedOut
}

var numberRe = regexp.MustCompile(`^\d{9,15}$`)

// NormalizeNumber strips formatting characters and validates the result as a
// 9-15 digit phone number. Validation happens before any store or protocol
// client side effect.
func NormalizeNumber(raw string) (string, error) {
	n := strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if !numberRe.MatchString(n) {
		return "", NewError(KindInvalidArgument, "phone number must be 9-15 digits", nil)
	}
	return n, nil
}

// Session tracks one in-flight pairing attempt for a phone number.
// At most one exists per number at any time (enforced by the Manager).
type Session struct {
	ID        string
	Number    string
	Mode      Mode
	CreatedAt time.Time
	ExpiresAt time.Time

	mu      sync.Mutex
	state   State
	code    string
	lastErr *Error

	client ProtocolClient

	// codeCh receives the issued code exactly once; done is closed when the
	// session reaches a terminal state.
	codeCh chan string
	done   chan struct{}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Code returns the issued pairing code or QR payload, if any.
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Err returns the terminal error, if the session failed.
func (s *Session) Err() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// setState moves the session forward. Transitions out of a terminal state
// are ignored: close events may race with the timeout path.
func (s *Session) setState(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = next
	return true
}

func (s *Session) issueCode(code string) bool {
	s.mu.Lock()
	if s.state.Terminal() || s.code != "" {
		s.mu.Unlock()
		return false
	}
	s.state = StateCodeIssued
	s.code = code
	s.mu.Unlock()

	select {
	case s.codeCh <- code:
	default:
	}
	return true
}

// refreshCode replaces the issued code with a rotated payload. QR payloads
// expire and rotate while the session waits for a scan; each rotation must
// reach subscribers or a late scanner is left with a dead code.
func (s *Session) refreshCode(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCodeIssued || code == "" || code == s.code {
		return false
	}
	s.code = code
	return true
}

func (s *Session) fail(state State, err *Error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.lastErr = err
	s.mu.Unlock()
	return true
}

// Outcome is the result of Begin or a status observation.
type Outcome struct {
	Number string
	State  State
	Code   string
	// Warning carries a non-fatal post-connect failure (persist or
	// delivery); the session is connected regardless.
	Warning string
}

func (s *Session) outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Outcome{Number: s.Number, State: s.state, Code: s.code}
	if s.state == StateConnected && s.lastErr != nil {
		out.Warning = s.lastErr.Error()
	}
	return out
}
