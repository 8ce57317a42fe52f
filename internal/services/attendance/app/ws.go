package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/platform/timeouts"
	"github.com/louisbranch/rollcall/internal/services/attendance/engine"
	"golang.org/x/net/websocket"
)

const (
	frameViewState    = "view.state"
	frameSelectionSet = "selection.set"
	frameMirrorRetry  = "mirror.retry"
	frameAck          = "ack"
	frameError        = "error"

	maxFramePayloadBytes   = 4 * 1024
	maxFramesPerSecond     = 20
	maxDecodeErrorsPerConn = 3
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type ackEnvelope struct {
	Result ackResult `json:"result"`
}

type ackResult struct {
	Status    string `json:"status"`
	Selection any    `json:"selection,omitempty"`
}

type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
	enc  *json.Encoder
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn, enc: json.NewEncoder(conn)}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.WebSocketWrite))
	return p.enc.Encode(frame)
}

func (p *wsPeer) write(frameType, requestID string, payload any) error {
	return p.writeFrame(wsFrame{Type: frameType, RequestID: requestID, Payload: mustJSON(payload)})
}

func (p *wsPeer) writeError(requestID, code, message string) error {
	return p.write(frameError, requestID, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// handleWSConn streams board states to one client and applies its control
// frames. Every client shares the same selection.
func handleWSConn(conn *websocket.Conn, board Board) {
	defer func() {
		_ = conn.Close()
	}()

	clientID := uuid.NewString()
	labels := LabelsFor(ResolveTag(conn.Request()))
	peer := newWSPeer(conn)
	log.Printf("attendance ws: client %s connected", clientID)

	ctx, cancel := context.WithCancel(context.Background())
	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		pushStates(ctx, peer, board, labels, clientID)
	}()
	defer func() {
		cancel()
		<-pushDone
		log.Printf("attendance ws: client %s disconnected", clientID)
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			decodeErrors++
			_ = peer.writeError("", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			// The stream position is unknown after a syntax error.
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = peer.writeError(frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case frameSelectionSet:
			handleSelectionFrame(peer, board, frame)
		case frameMirrorRetry:
			handleRetryFrame(peer, board, frame)
		default:
			_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

// pushStates forwards every published state until ctx ends or the engine
// stops. A failed write closes the connection so the reader exits.
func pushStates(ctx context.Context, peer *wsPeer, board Board, labels Labels, clientID string) {
	for state := range board.Watch(ctx) {
		if err := peer.write(frameViewState, "", newStateResponse(state, labels)); err != nil {
			log.Printf("attendance ws: push to client %s: %v", clientID, err)
			_ = peer.conn.Close()
			return
		}
	}
	if ctx.Err() == nil {
		// Engine stopped; end the session.
		_ = peer.conn.Close()
	}
}

func handleSelectionFrame(peer *wsPeer, board Board, frame wsFrame) {
	var req selectionRequest
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "invalid selection payload")
			return
		}
	}
	selection, err := board.Select(req.patch())
	if err != nil {
		_ = peer.writeError(frame.RequestID, frameErrorCode(err), err.Error())
		return
	}
	_ = peer.write(frameAck, frame.RequestID, ackEnvelope{Result: ackResult{Status: "ok", Selection: selection}})
}

func handleRetryFrame(peer *wsPeer, board Board, frame wsFrame) {
	if err := board.Retry(); err != nil {
		_ = peer.writeError(frame.RequestID, frameErrorCode(err), err.Error())
		return
	}
	_ = peer.write(frameAck, frame.RequestID, ackEnvelope{Result: ackResult{Status: "retrying"}})
}

func frameErrorCode(err error) string {
	if errors.Is(err, engine.ErrClosed) {
		return "UNAVAILABLE"
	}
	return string(apperrors.CodeOf(err))
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("attendance ws: encode payload: %v", err)
		return json.RawMessage(`{}`)
	}
	return data
}
