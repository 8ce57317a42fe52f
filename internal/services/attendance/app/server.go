// Package app hosts the attendance board over HTTP, WebSocket and gRPC health.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/rollcall/internal/platform/timeouts"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/engine"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage"
	attendancesqlite "github.com/louisbranch/rollcall/internal/services/attendance/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name tracking the roster
// subscription.
const HealthService = "attendance.engine"

const (
	defaultHTTPAddr   = ":8095"
	defaultHealthPort = 8096
	defaultDBPath     = "data/attendance.db"
	defaultSection    = "Gregorio Y. Zara"
)

// Config defines the inputs for the attendance service.
type Config struct {
	HTTPAddr     string
	HealthPort   int
	DBPath       string
	PollInterval time.Duration
	Section      string
	Mode         string
	// Date is the initial date as YYYY-MM-DD; empty means today in Timezone.
	Date                string
	Timezone            string
	SubscribeOnWeekends bool
	ReadHeaderTimeout   time.Duration
	ShutdownTimeout     time.Duration
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	if c.HealthPort <= 0 {
		c.HealthPort = defaultHealthPort
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = defaultDBPath
	}
	if c.PollInterval <= 0 {
		c.PollInterval = attendancesqlite.DefaultPollInterval
	}
	if strings.TrimSpace(c.Section) == "" {
		c.Section = defaultSection
	}
	if strings.TrimSpace(c.Mode) == "" {
		c.Mode = string(domain.ModeTimeIn)
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = timeouts.Shutdown
	}
	return c
}

// InitialSelection resolves the configured selection. An empty date means
// today in the configured time zone.
func (c Config) InitialSelection(now time.Time) (domain.Selection, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return domain.Selection{}, fmt.Errorf("load timezone %q: %w", tz, err)
		}
	}
	date := domain.Today(now, loc)
	if raw := strings.TrimSpace(c.Date); raw != "" {
		parsed, err := domain.ParseDate(raw)
		if err != nil {
			return domain.Selection{}, err
		}
		date = parsed
	}
	mode, err := domain.ParseMode(c.Mode)
	if err != nil {
		return domain.Selection{}, err
	}
	selection := domain.Selection{Section: strings.TrimSpace(c.Section), Date: date, Mode: mode}
	if err := selection.Validate(); err != nil {
		return domain.Selection{}, err
	}
	return selection, nil
}

// Server hosts one attendance engine and its transports.
type Server struct {
	httpAddr        string
	healthAddr      string
	shutdownTimeout time.Duration
	engine          *engine.Engine
	httpServer      *http.Server
	grpcServer      *grpc.Server
	health          *health.Server
	closeStore      func() error
}

// NewServer opens the SQLite store at cfg.DBPath and builds a server on it.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.normalized()
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create attendance storage dir: %w", err)
		}
	}
	store, err := attendancesqlite.Open(cfg.DBPath, attendancesqlite.WithPollInterval(cfg.PollInterval))
	if err != nil {
		return nil, fmt.Errorf("open attendance sqlite store: %w", err)
	}
	server, err := NewServerWithStore(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	server.closeStore = store.Close
	return server, nil
}

// NewServerWithStore builds a server on an already open store. The caller
// keeps ownership of the store.
func NewServerWithStore(cfg Config, store storage.Store) (*Server, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	cfg = cfg.normalized()
	selection, err := cfg.InitialSelection(time.Now())
	if err != nil {
		return nil, err
	}
	var opts []engine.Option
	if cfg.SubscribeOnWeekends {
		opts = append(opts, engine.WithWeekendSubscriptions())
	}
	board, err := engine.New(store, selection, opts...)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		httpAddr:        cfg.HTTPAddr,
		healthAddr:      fmt.Sprintf(":%d", cfg.HealthPort),
		shutdownTimeout: cfg.ShutdownTimeout,
		engine:          board,
		httpServer: &http.Server{
			Handler:           NewHandler(board),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		grpcServer: grpcServer,
		health:     healthServer,
	}, nil
}

// Engine returns the server's engine.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Run builds a server from cfg and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve attendance: %w", err)
	}
	return nil
}

// ListenAndServe binds the configured addresses and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("attendance server is nil")
	}
	httpListener, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpAddr, err)
	}
	healthListener, err := net.Listen("tcp", s.healthAddr)
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen on health %s: %w", s.healthAddr, err)
	}
	return s.Serve(ctx, httpListener, healthListener)
}

// Serve runs the engine, the HTTP server and the health server until ctx ends
// or one of them fails.
func (s *Server) Serve(ctx context.Context, httpListener, healthListener net.Listener) error {
	if s == nil {
		return errors.New("attendance server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if httpListener == nil || healthListener == nil {
		return errors.New("listeners are required")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.engine.Run(gctx)
	})
	g.Go(func() error {
		s.trackHealth(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("attendance server listening on %s", httpListener.Addr())
		if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("attendance health listening on %s", healthListener.Addr())
		if err := s.grpcServer.Serve(healthListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve health: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases the store when the server owns it.
func (s *Server) Close() {
	if s == nil || s.closeStore == nil {
		return
	}
	if err := s.closeStore(); err != nil {
		log.Printf("close attendance sqlite store: %v", err)
	}
}

// trackHealth mirrors the roster subscription health into the gRPC health
// server.
func (s *Server) trackHealth(ctx context.Context) {
	serving := true
	for state := range s.engine.Watch(ctx) {
		if state.Healthy() == serving {
			continue
		}
		serving = state.Healthy()
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if !serving {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			log.Printf("attendance health: not serving: %s", state.Error)
		} else {
			log.Printf("attendance health: serving")
		}
		s.health.SetServingStatus(HealthService, status)
	}
}
