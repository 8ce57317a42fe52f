package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/engine"
	"golang.org/x/net/websocket"
)

const maxSelectionBodyBytes = 4 * 1024

// Board is the engine surface the transports need.
type Board interface {
	State() engine.State
	Sections() []string
	Select(patch domain.SelectionPatch) (domain.Selection, error)
	Retry() error
	Watch(ctx context.Context) <-chan engine.State
}

var _ Board = (*engine.Engine)(nil)

// stateResponse is the engine state plus display labels.
type stateResponse struct {
	engine.State
	Labels Labels `json:"labels"`
}

type selectionRequest struct {
	Section string `json:"section"`
	Date    string `json:"date"`
	Mode    string `json:"mode"`
}

func (r selectionRequest) patch() domain.SelectionPatch {
	return domain.SelectionPatch{Section: r.Section, Date: r.Date, Mode: r.Mode}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewHandler creates the attendance routes.
func NewHandler(board Board) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newStateResponse(board.State(), LabelsFor(ResolveTag(r))))
	})
	mux.HandleFunc("GET /api/sections", func(w http.ResponseWriter, r *http.Request) {
		sections := board.Sections()
		if sections == nil {
			sections = []string{}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"sections": sections})
	})
	mux.HandleFunc("PUT /api/selection", func(w http.ResponseWriter, r *http.Request) {
		var req selectionRequest
		body := http.MaxBytesReader(w, r.Body, maxSelectionBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid selection payload", nil)
			return
		}
		selection, err := board.Select(req.patch())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]domain.Selection{"selection": selection})
	})
	mux.HandleFunc("POST /api/retry", func(w http.ResponseWriter, r *http.Request) {
		if err := board.Retry(); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, board)
	})
	mux.Handle("GET /ws", wsHandler)

	return mux
}

func newStateResponse(state engine.State, labels Labels) stateResponse {
	if state.Sections == nil {
		state.Sections = []string{}
	}
	return stateResponse{State: state, Labels: labels}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("attendance http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   message,
		Retryable: status >= http.StatusInternalServerError,
		Details:   details,
	}})
}

func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil)
		return
	}
	code := apperrors.CodeOf(err)
	var details map[string]string
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		details = domainErr.Metadata
	}
	writeError(w, code.HTTPStatus(), string(code), err.Error(), details)
}
