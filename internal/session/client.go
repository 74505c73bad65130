package session

import "context"

// Mode selects how the pairing challenge is delivered to the user.
type Mode string

const (
	// ModeCode issues a short alphanumeric code the user types on their phone.
	ModeCode Mode = "code"
	// ModeQR issues a QR payload the user scans.
	ModeQR Mode = "qr"
)

// EventKind identifies a protocol client event.
type EventKind int

const (
	// EventQRCode carries a raw QR payload in Code.
	EventQRCode EventKind = iota
	// EventPairCode carries a pairing code in Code. Some protocol variants
	// push the code here instead of returning it from RequestPairingCode.
	EventPairCode
	// EventOpen signals the connection is open and authenticated.
	EventOpen
	// EventClosed signals the connection closed. LoggedOut marks an
	// authentication-failure close; otherwise the client may reconnect on
	// its own and the event is informational.
	EventClosed
)

// ClientEvent is one discrete transition reported by a protocol client.
type ClientEvent struct {
	Kind      EventKind
	Code      string
	LoggedOut bool
	Err       error
}

// ProtocolClient is the manager's view of one external protocol connection.
// Implementations translate the client library's callbacks into the Events
// stream; the manager never polls shared flags.
type ProtocolClient interface {
	// Connect starts the connection attempt. For ModeQR the implementation
	// must have subscribed to the QR stream before connecting.
	Connect(ctx context.Context) error
	// RequestPairingCode asks for a pairing code for the given number.
	// May return the code directly, or "" when the client pushes it via
	// an EventPairCode event instead.
	RequestPairingCode(ctx context.Context, number string) (string, error)
	// Events delivers connection-state transitions until Disconnect.
	Events() <-chan ClientEvent
	// JID returns the authenticated identity, or "" before open.
	JID() string
	// SendText delivers a text message to a JID over the open connection.
	SendText(ctx context.Context, toJID, text string) error
	// Disconnect releases the underlying transport. Idempotent.
	Disconnect()
}

// ClientFactory constructs one protocol client per pairing attempt.
type ClientFactory interface {
	NewClient(ctx context.Context, number string, mode Mode) (ProtocolClient, error)
}
