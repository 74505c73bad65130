// Package wa adapts go.mau.fi/whatsmeow to the session manager's
// ProtocolClient contract. Each pairing attempt gets its own sqlstore
// container inside the number's credential directory.
package wa

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/wagate/internal/creds"
	"github.com/nextlevelbuilder/wagate/internal/plugins"
	"github.com/nextlevelbuilder/wagate/internal/session"
)

const deviceDBFile = "wagate.db"

// Factory builds whatsmeow-backed protocol clients.
type Factory struct {
	store    creds.Store
	registry *plugins.Registry
	logLevel string
}

// NewFactory wires the factory to the credential store (for per-number
// directories) and the plugin registry (for inbound message dispatch).
func NewFactory(store creds.Store, registry *plugins.Registry, logLevel string) *Factory {
	if logLevel == "" {
		logLevel = "WARN"
	}
	return &Factory{store: store, registry: registry, logLevel: logLevel}
}

// NewClient opens the number's device store and constructs an unconnected
// client. Construction errors are terminal for the attempt (no retry).
func (f *Factory) NewClient(ctx context.Context, number string, mode session.Mode) (session.ProtocolClient, error) {
	dir, err := f.store.Dir(number)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		filepath.Join(dir, deviceDBFile))
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	c := &Client{
		wm:       whatsmeow.NewClient(device, waLog.Stdout("client", f.logLevel, false)),
		number:   number,
		mode:     mode,
		registry: f.registry,
		events:   make(chan session.ClientEvent, 16),
	}
	c.wm.AddEventHandler(c.handleEvent)
	return c, nil
}

// Client wraps one whatsmeow connection. It implements both
// session.ProtocolClient and plugins.Conn.
type Client struct {
	wm       *whatsmeow.Client
	number   string
	mode     session.Mode
	registry *plugins.Registry

	events chan session.ClientEvent

	closeOnce sync.Once
}

// Connect subscribes to the QR stream when pairing by QR (the channel must
// exist before the websocket dials), then starts the connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.mode == session.ModeQR && c.wm.Store.ID == nil {
		qrChan, err := c.wm.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go c.pumpQR(qrChan)
	}
	if err := c.wm.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// RequestPairingCode asks the server for a phone-link code.
func (c *Client) RequestPairingCode(ctx context.Context, number string) (string, error) {
	code, err := c.wm.PairPhone(ctx, number, true, whatsmeow.PairClientChrome,
		"Chrome ("+runtime.GOOS+")")
	if err != nil {
		return "", fmt.Errorf("pair phone: %w", err)
	}
	return code, nil
}

func (c *Client) Events() <-chan session.ClientEvent { return c.events }

func (c *Client) JID() string {
	if c.wm.Store.ID == nil {
		return ""
	}
	return c.wm.Store.ID.String()
}

// SendText accepts either a full JID or a bare number.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	jid, err := ComposeJID(to)
	if err != nil {
		return err
	}
	_, err = c.wm.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// MarkRead sends a read receipt for one inbound message.
func (c *Client) MarkRead(ctx context.Context, msg plugins.Message) error {
	chat, err := types.ParseJID(msg.Chat)
	if err != nil {
		return fmt.Errorf("parse chat jid: %w", err)
	}
	sender, err := types.ParseJID(msg.Sender)
	if err != nil {
		return fmt.Errorf("parse sender jid: %w", err)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return c.wm.MarkRead(ctx, []types.MessageID{msg.ID}, ts, chat, sender)
}

// Disconnect releases the websocket transport. Safe to call repeatedly and
// concurrently with event delivery.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.wm.Disconnect()
		close(c.events)
	})
}

// emit forwards an event without ever blocking the whatsmeow callback
// goroutine. Events after Disconnect are dropped.
func (c *Client) emit(ev session.ClientEvent) {
	defer func() {
		// The events channel closes on Disconnect; a late callback racing
		// with it must not crash the process.
		if recover() != nil {
			slog.Debug("event after disconnect dropped", "number", c.number)
		}
	}()
	select {
	case c.events <- ev:
	default:
		slog.Warn("protocol event buffer full, dropping", "number", c.number, "kind", ev.Kind)
	}
}
