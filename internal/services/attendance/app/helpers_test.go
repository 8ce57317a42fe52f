package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/engine"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage/memory"
	"golang.org/x/net/websocket"
)

var friday = domain.NewDate(2026, 10, 16)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	for _, student := range []domain.Student{
		{ID: "a", Name: "Ana", Section: "Zara"},
		{ID: "b", Name: "Ben", Section: "Zara"},
		{ID: "c", Name: "Cruz", Section: "Rizal"},
	} {
		if err := store.PutStudent(ctx, student); err != nil {
			t.Fatalf("put student: %v", err)
		}
	}
	in := friday.Time().Add(8 * time.Hour)
	if err := store.PutRecord(ctx, "a", friday, domain.DailyRecord{Status: domain.StatusLate, TimeIn: &in}); err != nil {
		t.Fatalf("put record: %v", err)
	}
	return store
}

// startBoard runs an engine over store until the test ends.
func startBoard(t *testing.T, store *memory.Store) *engine.Engine {
	t.Helper()
	board, err := engine.New(store, domain.Selection{Section: "Zara", Date: friday, Mode: domain.ModeTimeIn})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = board.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitForState(t, board, "settled board", func(s engine.State) bool {
		return !s.Loading && s.View.Total() == 2
	})
	return board
}

func waitForState(t *testing.T, board *engine.Engine, what string, ok func(engine.State) bool) engine.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for state := range board.Watch(ctx) {
		if ok(state) {
			return state
		}
	}
	t.Fatalf("timed out waiting for %s; last state %+v", what, board.State())
	return engine.State{}
}

func newTestServer(t *testing.T, board Board) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(board))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
