package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/wagate/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	// wsPairWindow caps one websocket pairing exchange end to end.
	wsPairWindow = 5 * time.Minute
)

// wsStartFrame is the client's opening message.
type wsStartFrame struct {
	Number string `json:"number"`
	Mode   string `json:"mode,omitempty"`
}

// wsEventFrame is one state-transition frame pushed to the client.
type wsEventFrame struct {
	Event       string `json:"event"`
	State       string `json:"state,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	QR          string `json:"qr,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}

// handleWS streams pairing progress over a websocket: the client sends
// {"number": ..., "mode": ...} and receives a frame per state transition
// until the session terminates. This replaces the polling variants of the
// plain HTTP flow.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	var start wsStartFrame
	if err := conn.ReadJSON(&start); err != nil {
		s.wsSend(conn, wsEventFrame{Event: "error", Message: "expected a start frame"})
		return
	}

	number, err := session.NormalizeNumber(start.Number)
	if err != nil {
		s.wsSend(conn, wsEventFrame{
			Event:   "error",
			Error:   string(session.KindInvalidArgument),
			Message: err.Error(),
		})
		return
	}

	if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
		s.wsSend(conn, wsEventFrame{
			Event:   "error",
			Error:   "RateLimited",
			Message: "too many pairing requests, slow down",
		})
		return
	}

	mode := session.Mode(start.Mode)
	if mode == "" {
		mode = s.mode()
	}

	subID := "ws-" + uuid.NewString()
	events := s.events.Subscribe(subID)
	defer s.events.Unsubscribe(subID)

	ctx, cancel := context.WithTimeout(r.Context(), wsPairWindow)
	defer cancel()

	// Drive the session in the background; progress arrives via the bus.
	type beginResult struct {
		out session.Outcome
		err error
	}
	beginCh := make(chan beginResult, 1)
	go func() {
		out, err := s.pairer.Begin(ctx, number, mode)
		beginCh <- beginResult{out: out, err: err}
	}()

	for {
		select {
		case <-ctx.Done():
			s.wsSend(conn, wsEventFrame{
				Event:   "error",
				Error:   string(session.KindCodeTimeout),
				Message: "pairing window closed",
			})
			return

		case res := <-beginCh:
			beginCh = nil
			// Failures surface on the bus as terminal frames. A duplicate
			// request attaches to the in-flight session's stream, but it may
			// have missed the code frame published before it subscribed, so
			// replay it from the observed outcome.
			if session.KindOf(res.err) == session.KindSessionAlreadyActive && res.out.Code != "" {
				frame := wsEventFrame{
					Event:       "state",
					State:       string(res.out.State),
					PhoneNumber: res.out.Number,
				}
				if mode == session.ModeQR {
					if qr, qerr := qrDataURL(res.out.Code); qerr == nil {
						frame.QR = qr
					}
				} else {
					frame.PairingCode = res.out.Code
				}
				if !s.wsSend(conn, frame) {
					return
				}
			}

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Number != number {
				continue
			}

			frame := wsEventFrame{
				Event:       "state",
				State:       ev.State,
				PhoneNumber: ev.Number,
				Error:       ev.Error,
			}
			if ev.Code != "" && session.State(ev.State) == session.StateCodeIssued {
				if mode == session.ModeQR {
					qr, err := qrDataURL(ev.Code)
					if err != nil {
						slog.Error("qr encode failed", "number", number, "error", err)
					} else {
						frame.QR = qr
					}
				} else {
					frame.PairingCode = ev.Code
				}
			}
			if !s.wsSend(conn, frame) {
				return
			}
			if session.State(ev.State).Terminal() {
				return
			}
		}
	}
}

func (s *Server) wsSend(conn *websocket.Conn, frame wsEventFrame) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		slog.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}
