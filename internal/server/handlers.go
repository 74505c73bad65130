package server

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nextlevelbuilder/wagate/internal/session"
)

type pairResponse struct {
	Success     bool   `json:"success"`
	PhoneNumber string `json:"phoneNumber"`
	PairingCode string `json:"pairingCode,omitempty"`
	QR          string `json:"qr,omitempty"`
	State       string `json:"state,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}

type statusResponse struct {
	Status      string `json:"status"`
	PhoneNumber string `json:"phoneNumber"`
	State       string `json:"state,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("wagate is running\n"))
}

// handlePair drives a pairing attempt synchronously until the code is
// issued or the deadline elapses.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, pairResponse{
			Success: false,
			Error:   "RateLimited",
			Message: "too many pairing requests, slow down",
		})
		return
	}

	number := r.URL.Query().Get("number")
	mode := session.Mode(r.URL.Query().Get("mode"))
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			if v := r.PostForm.Get("number"); v != "" {
				number = v
			}
			if v := r.PostForm.Get("mode"); v != "" {
				mode = session.Mode(v)
			}
		}
	}
	if mode == "" {
		mode = s.mode()
	}

	outcome, err := s.pairer.Begin(r.Context(), number, mode)
	if err != nil {
		kind := session.KindOf(err)
		resp := pairResponse{
			Success:     false,
			PhoneNumber: outcome.Number,
			State:       string(outcome.State),
			Error:       string(kind),
			Message:     err.Error(),
		}
		if kind == session.KindSessionAlreadyActive {
			// Duplicate request observes the in-flight attempt.
			resp.PairingCode = outcome.Code
		}
		writeJSON(w, statusForKind(kind), resp)
		return
	}

	resp := pairResponse{
		Success:     true,
		PhoneNumber: outcome.Number,
		State:       string(outcome.State),
		// A connected session with a failed blob delivery is still a
		// success; the warning rides along.
		Message: outcome.Warning,
	}
	if mode == session.ModeQR {
		qr, err := qrDataURL(outcome.Code)
		if err != nil {
			slog.Error("qr encode failed", "number", outcome.Number, "error", err)
			writeJSON(w, http.StatusInternalServerError, pairResponse{
				Success:     false,
				PhoneNumber: outcome.Number,
				Error:       "QREncodeFailed",
				Message:     "failed to render QR code",
			})
			return
		}
		resp.QR = qr
	} else {
		resp.PairingCode = outcome.Code
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus reports persisted credential existence, independent of any
// live session.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	info, err := s.pairer.Status(number)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{
			Status:      "not active",
			PhoneNumber: number,
			Error:       string(session.KindOf(err)),
		})
		return
	}

	status := "not active"
	if info.Exists {
		status = "active"
	}
	resp := statusResponse{Status: status, PhoneNumber: number}
	if info.Active {
		resp.State = string(info.State)
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusForKind maps the error taxonomy onto HTTP statuses.
func statusForKind(kind session.Kind) int {
	switch kind {
	case session.KindInvalidArgument:
		return http.StatusBadRequest
	case session.KindSessionAlreadyActive:
		return http.StatusConflict
	case session.KindCodeTimeout:
		return http.StatusGatewayTimeout
	case session.KindNoSession:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// qrDataURL renders a raw QR payload as a PNG data URL.
func qrDataURL(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
