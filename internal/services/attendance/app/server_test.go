package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/engine"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestInitialSelectionDefaultsToToday(t *testing.T) {
	// 2026-10-16 23:30 UTC is already Saturday in Manila.
	now := time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)
	cfg := Config{Section: "Zara", Mode: "time_in", Timezone: "Asia/Manila"}

	selection, err := cfg.InitialSelection(now)
	if err != nil {
		t.Fatalf("initial selection: %v", err)
	}
	if want := domain.NewDate(2026, 10, 17); selection.Date != want {
		t.Fatalf("date = %s, want %s", selection.Date, want)
	}
}

func TestInitialSelectionUsesConfiguredDate(t *testing.T) {
	cfg := Config{Section: "Zara", Mode: "time_out", Date: "2026-10-16"}

	selection, err := cfg.InitialSelection(time.Now())
	if err != nil {
		t.Fatalf("initial selection: %v", err)
	}
	if selection.Date != friday || selection.Mode != domain.ModeTimeOut {
		t.Fatalf("selection = %+v", selection)
	}
}

func TestInitialSelectionRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		code apperrors.Code
	}{
		{name: "mode", cfg: Config{Section: "Zara", Mode: "lunch"}, code: apperrors.CodeConfigurationInvalidMode},
		{name: "date", cfg: Config{Section: "Zara", Mode: "time_in", Date: "yesterday"}, code: apperrors.CodeConfigurationInvalidDate},
		{name: "section", cfg: Config{Section: "  ", Mode: "time_in"}, code: apperrors.CodeConfigurationEmptySection},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.cfg.InitialSelection(time.Now())
			if got := apperrors.CodeOf(err); got != tc.code {
				t.Fatalf("code = %s, want %s", got, tc.code)
			}
		})
	}

	if _, err := (Config{Section: "Zara", Mode: "time_in", Timezone: "Mars/Olympus"}).InitialSelection(time.Now()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestNormalizedFillsDefaults(t *testing.T) {
	cfg := Config{}.normalized()
	if cfg.HTTPAddr != defaultHTTPAddr || cfg.HealthPort != defaultHealthPort || cfg.DBPath != defaultDBPath {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Section != defaultSection || cfg.Mode != string(domain.ModeTimeIn) {
		t.Fatalf("selection defaults = %+v", cfg)
	}
}

func TestNewServerWithStoreRequiresStore(t *testing.T) {
	if _, err := NewServerWithStore(Config{}, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

type runningServer struct {
	httpURL    string
	healthAddr string
	cancel     context.CancelFunc
	done       chan error
}

func serve(t *testing.T, server *Server) *runningServer {
	t.Helper()
	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen http: %v", err)
	}
	healthListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen health: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningServer{
		httpURL:    "http://" + httpListener.Addr().String(),
		healthAddr: healthListener.Addr().String(),
		cancel:     cancel,
		done:       make(chan error, 1),
	}
	go func() { rs.done <- server.Serve(ctx, httpListener, healthListener) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-rs.done:
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return rs
}

func healthStatus(t *testing.T, addr, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial health: %v", err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func waitForHealth(t *testing.T, addr string, want grpc_health_v1.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := healthStatus(t, addr, HealthService)
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("health = %s, want %s", got, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServeReportsRosterHealth(t *testing.T) {
	store := seededStore(t)
	server, err := NewServerWithStore(Config{Section: "Zara", Mode: "time_in", Date: friday.String()}, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	rs := serve(t, server)

	waitForHealth(t, rs.healthAddr, grpc_health_v1.HealthCheckResponse_SERVING)
	waitForState(t, server.Engine(), "roster loaded", func(s engine.State) bool {
		return !s.Loading && s.View.Total() == 2
	})

	store.FailRoster(errors.New("quota exceeded"))
	waitForHealth(t, rs.healthAddr, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if err := server.Engine().Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitForHealth(t, rs.healthAddr, grpc_health_v1.HealthCheckResponse_SERVING)
}

func TestServeStopsCleanlyOnCancel(t *testing.T) {
	store := seededStore(t)
	server, err := NewServerWithStore(Config{Section: "Zara", Mode: "time_in", Date: friday.String()}, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	rs := serve(t, server)

	resp, err := http.Get(rs.httpURL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "OK" {
		t.Fatalf("body = %q", body)
	}

	rs.cancel()
	select {
	case err := <-rs.done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
		rs.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	if got := store.RosterSubscriptions(); got != 0 {
		t.Fatalf("roster subscriptions = %d, want 0", got)
	}
	if got := store.RecordSubscriptions(); got != 0 {
		t.Fatalf("record subscriptions = %d, want 0", got)
	}
}

func TestNewServerOpensSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "attendance.db")
	server, err := NewServer(Config{Section: "Zara", Mode: "time_in", Date: friday.String(), DBPath: dbPath, PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(server.Close)
	rs := serve(t, server)

	resp, err := http.Get(rs.httpURL + "/api/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
