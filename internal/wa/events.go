package wa

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/nextlevelbuilder/wagate/internal/plugins"
	"github.com/nextlevelbuilder/wagate/internal/session"
)

const pluginDispatchTimeout = 30 * time.Second

// handleEvent translates whatsmeow callbacks into the session event stream
// and routes inbound messages to the plugin registry.
func (c *Client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		slog.Info("pair success", "number", c.number, "jid", e.ID.String())

	case *events.Connected:
		c.emit(session.ClientEvent{Kind: session.EventOpen})

	case *events.LoggedOut:
		c.emit(session.ClientEvent{
			Kind:      session.EventClosed,
			LoggedOut: true,
			Err:       errors.New("logged out by server"),
		})

	case *events.Disconnected:
		c.emit(session.ClientEvent{Kind: session.EventClosed})

	case *events.ConnectFailure:
		c.emit(session.ClientEvent{
			Kind: session.EventClosed,
			Err:  errors.New(e.Message),
		})

	case *events.Message:
		if c.registry == nil || c.registry.Len() == 0 {
			return
		}
		msg := plugins.Message{
			ID:        string(e.Info.ID),
			Chat:      e.Info.Chat.String(),
			Sender:    e.Info.Sender.String(),
			Text:      extractText(e),
			Timestamp: e.Info.Timestamp,
			FromMe:    e.Info.IsFromMe,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), pluginDispatchTimeout)
			defer cancel()
			c.registry.Dispatch(ctx, c, msg)
		}()
	}
}

// pumpQR forwards QR channel items as session events. Success is not
// forwarded: the open transition arrives via events.Connected.
func (c *Client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.emit(session.ClientEvent{Kind: session.EventQRCode, Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			slog.Info("qr scan accepted", "number", c.number)
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(session.ClientEvent{
				Kind: session.EventClosed,
				Err:  errors.New("qr channel timed out"),
			})
		case "error":
			c.emit(session.ClientEvent{Kind: session.EventClosed, Err: item.Error})
		default:
			slog.Debug("qr channel event", "number", c.number, "event", item.Event)
		}
	}
}

// extractText pulls the plain text out of the common message shapes.
func extractText(e *events.Message) string {
	if e.Message == nil {
		return ""
	}
	if t := e.Message.GetConversation(); t != "" {
		return t
	}
	return e.Message.GetExtendedTextMessage().GetText()
}
