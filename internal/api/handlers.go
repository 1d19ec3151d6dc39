package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/lucasduarte0/whatsapp-api/internal/message"
	"github.com/lucasduarte0/whatsapp-api/internal/session"
	"github.com/lucasduarte0/whatsapp-api/pkg/models"
)

// Flush endpoints reply with this message
const MsgFlushCompleted = "Flush completed successfully"

// MsgQRNotReady is returned by the QR endpoint while no code is pending
const MsgQRNotReady = "QR code not ready or already scanned"

// Options configures the HTTP layer
type Options struct {
	// APIKey, when set, must be sent by callers as x-api-key
	APIKey              string
	SessionsPath        string
	MaxBodySize         int64
	EnableLocalCallback bool
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	manager *session.Manager
	opts    Options
	logger  *zap.Logger

	logMu sync.Mutex
}

// NewHandler creates a new HTTP handler
func NewHandler(manager *session.Manager, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		opts:    opts,
		logger:  logger.Named("api"),
	}
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, models.ErrorResponse{Success: false, Error: msg})
}

// Ping handles GET /ping
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, models.Response{Success: true, Message: "pong"})
}

// LocalCallbackExample handles POST /localCallbackExample. It stands in for a
// webhook receiver and appends every payload to message_log.txt.
func (h *Handler) LocalCallbackExample(w http.ResponseWriter, r *http.Request) {
	var payload models.CallbackPayload
	if err := decodeBody(r, &payload); err != nil {
		sendDecodeError(w, err)
		return
	}
	if payload.DataType == "qr" {
		qr, _ := payload.Data["qr"].(string)
		h.logger.Info("qr received", zap.String("session_id", payload.SessionID), zap.String("qr", qr))
	}

	line, err := json.Marshal(payload)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.appendLog(append(line, '\n')); err != nil {
		h.logger.Error("failed to write callback log", zap.Error(err))
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, models.Response{Success: true})
}

func (h *Handler) appendLog(line []byte) error {
	h.logMu.Lock()
	defer h.logMu.Unlock()

	if err := os.MkdirAll(h.opts.SessionsPath, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(h.opts.SessionsPath, "message_log.txt"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// StartSession handles GET /session/start/{sessionId}
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	res, err := h.manager.Create(id)
	if err != nil {
		if errors.Is(err, session.ErrInvalidID) {
			sendErrorResponse(w, http.StatusUnprocessableEntity, session.ErrInvalidID.Error())
			return
		}
		h.logger.Error("failed to start session", zap.String("session_id", id), zap.Error(err))
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.Success {
		sendErrorResponse(w, http.StatusUnprocessableEntity, res.Message)
		return
	}

	if err := h.manager.WaitReady(r.Context(), res.Client); err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, models.Response{Success: true, Message: res.Message})
}

// SessionStatus handles GET /session/status/{sessionId}
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	v := h.manager.Validate(r.Context(), id)
	resp := models.StatusResponse{Success: v.Success, Message: v.Message}
	if v.State != nil {
		s := string(*v.State)
		resp.State = &s
	}
	if st, ok := h.manager.Status(id); ok {
		resp.LastError = st.LastError
		if !st.UpdatedAt.IsZero() {
			resp.UpdatedAt = &st.UpdatedAt
		}
	}
	sendJSON(w, http.StatusOK, resp)
}

// SessionQR handles GET /session/qr/{sessionId}
func (h *Handler) SessionQR(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	qr, ok := h.manager.QR(id)
	switch {
	case !ok:
		sendJSON(w, http.StatusOK, models.QRResponse{Message: session.MsgSessionNotFound})
	case qr == "":
		sendJSON(w, http.StatusOK, models.QRResponse{Message: MsgQRNotReady})
	default:
		sendJSON(w, http.StatusOK, models.QRResponse{Success: true, QR: qr})
	}
}

// RestartSession handles GET /session/restart/{sessionId}
func (h *Handler) RestartSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	res, err := h.manager.Restart(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to restart session", zap.String("session_id", id), zap.Error(err))
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, models.Response{Success: res.Success, Message: res.Message})
}

// TerminateSession handles GET /session/terminate/{sessionId}
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	res, err := h.manager.Terminate(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to terminate session", zap.String("session_id", id), zap.Error(err))
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, models.Response{Success: res.Success, Message: res.Message})
}

// TerminateInactive handles GET /session/terminateInactive
func (h *Handler) TerminateInactive(w http.ResponseWriter, r *http.Request) {
	h.flush(w, r, true)
}

// TerminateAll handles GET /session/terminateAll
func (h *Handler) TerminateAll(w http.ResponseWriter, r *http.Request) {
	h.flush(w, r, false)
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request, onlyInactive bool) {
	if err := h.manager.Flush(r.Context(), onlyInactive); err != nil {
		h.logger.Error("flush failed", zap.Bool("only_inactive", onlyInactive), zap.Error(err))
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, models.Response{Success: true, Message: MsgFlushCompleted})
}

// ListSessions handles GET /session/getSessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, models.SessionsResponse{Success: true, Sessions: h.manager.Sessions()})
}

// GetClassInfo handles POST /message/getClassInfo/{sessionId}
func (h *Handler) GetClassInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	var req models.GetClassInfoRequest
	if err := decodeBody(r, &req); err != nil {
		sendDecodeError(w, err)
		return
	}

	c, err := h.manager.Client(id)
	if err != nil {
		sendErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	msg, err := message.Resolve(r.Context(), c, req.ChatID, req.MessageID)
	if err != nil {
		if !errors.Is(err, message.ErrNotFound) {
			h.logger.Warn("message lookup failed", zap.String("session_id", id), zap.Error(err))
		}
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: msg})
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func sendDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		sendErrorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	sendErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
}
