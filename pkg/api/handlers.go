package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sipeed/wabridge/pkg/dispatch"
	"github.com/sipeed/wabridge/pkg/logger"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	logger.InfoCF("api", "Received request to /send", requestFields(r))

	if !s.authorize(w, r) {
		return
	}

	if !s.opts.Readiness.ConfirmReady(r.Context()) {
		logger.WarnCF("api", "WhatsApp client not ready or session closed", requestFields(r))
		writeError(w, http.StatusServiceUnavailable, dispatch.ErrNotReady.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req, err := parseSendRequest(body)
	if err != nil {
		fields := requestFields(r)
		fields["error"] = err.Error()
		logger.WarnCF("api", "Rejected send request", fields)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.opts.Sender.Send(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": true})
	case errors.Is(err, dispatch.ErrNumberNotFound):
		writeError(w, http.StatusNotFound, dispatch.ErrNumberNotFound.Error())
	case errors.Is(err, dispatch.ErrForbiddenRecipient):
		writeError(w, http.StatusBadRequest, "Recipient not allowed")
	case errors.Is(err, dispatch.ErrInvalidRecipient):
		writeError(w, http.StatusBadRequest, "Invalid phoneNumber")
	case errors.Is(err, dispatch.ErrEmptyRequest):
		writeError(w, http.StatusBadRequest, missingContentMessage)
	case dispatch.IsRetryable(err):
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"res":   false,
			"error": "WhatsApp session temporarily unavailable, please retry in a few seconds",
			"retry": true,
		})
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	logger.DebugC("api", "Health check on /test")

	if s.opts.Readiness.ConfirmReady(r.Context()) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "whatsapp": "ready"})
		return
	}
	logger.WarnC("api", "WhatsApp client not ready - test failed")
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "whatsapp": "not ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.State.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":             snap.Phase,
		"ready":             snap.Ready,
		"idle_seconds":      int64(snap.Idle / time.Second),
		"last_operation_at": snap.LastOperationAt,
		"last_operation":    humanize.Time(snap.LastOperationAt),
		"uptime":            time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		writeError(w, http.StatusNotFound, "No QR code available")
		return
	}
	qr := s.opts.Events.LastQRCode()
	if qr == nil || qr.SVG == "" {
		writeError(w, http.StatusNotFound, "No QR code available")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, qr.SVG)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.opts.Restart == nil {
		writeError(w, http.StatusNotImplemented, "Restart not available")
		return
	}
	logger.WarnCF("api", "Restart requested", requestFields(r))
	go s.opts.Restart(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"res": false, "error": msg})
}
