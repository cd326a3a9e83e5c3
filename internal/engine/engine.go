package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"strata/internal/logging"
	"strata/internal/telemetry"
)

type Config struct {
	Master      string // opaque engine master label, surfaced in /status
	UIPort      int
	ControlPort int
	Workers     int           // bounded shard-write slots
	StopBound   time.Duration // graceful stop bound (the block interval)
}

// Resource is the process's engine handle. It is owned by the lifecycle
// controller and passed by reference to the pieces that need it; it
// transitions nil → live → nil exactly once.
type Resource struct {
	cfg       Config
	startedAt time.Time

	uiSrv  *http.Server
	uiLn   net.Listener
	ctlSrv *grpc.Server
	ctlLn  net.Listener
	health *health.Server

	slots chan struct{}

	mu     sync.Mutex
	closed bool
}

// Start binds the UI and control listeners and begins serving. A bind
// failure is fatal to the caller's Start.
func Start(cfg Config) (*Resource, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StopBound <= 0 {
		cfg.StopBound = time.Second
	}

	uiLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.UIPort))
	if err != nil {
		return nil, fmt.Errorf("engine: ui listen: %w", err)
	}
	ctlLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ControlPort))
	if err != nil {
		_ = uiLn.Close()
		return nil, fmt.Errorf("engine: control listen: %w", err)
	}

	r := &Resource{
		cfg:       cfg,
		startedAt: time.Now(),
		uiLn:      uiLn,
		ctlLn:     ctlLn,
		health:    health.NewServer(),
		slots:     make(chan struct{}, cfg.Workers),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/status", r.statusHandler)
	r.uiSrv = &http.Server{Handler: mux}

	r.ctlSrv = grpc.NewServer()
	healthpb.RegisterHealthServer(r.ctlSrv, r.health)
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := r.uiSrv.Serve(uiLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("engine: ui server stopped", "err", err)
		}
	}()
	go func() {
		if err := r.ctlSrv.Serve(ctlLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.L().Error("engine: control server stopped", "err", err)
		}
	}()

	logging.L().Info("engine resource started",
		"master", cfg.Master,
		"ui", uiLn.Addr().String(),
		"control", ctlLn.Addr().String(),
		"workers", cfg.Workers)
	return r, nil
}

func (r *Resource) UIAddr() string      { return r.uiLn.Addr().String() }
func (r *Resource) ControlAddr() string { return r.ctlLn.Addr().String() }

// Do runs fn on one of the bounded worker slots, blocking while all slots
// are busy.
func (r *Resource) Do(ctx context.Context, fn func() error) error {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.slots }()
	return fn()
}

func (r *Resource) statusHandler(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	state := "live"
	if r.closed {
		state = "stopping"
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"master":     r.cfg.Master,
		"state":      state,
		"started_at": r.startedAt,
		"uptime_sec": time.Since(r.startedAt).Seconds(),
	})
}

// Stop requests a graceful shutdown bounded by StopBound; past the bound the
// servers are forced closed and resources released regardless of in-flight
// work. Idempotent.
func (r *Resource) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})
	go func() {
		r.ctlSrv.GracefulStop()
		close(done)
	}()
	bound := time.NewTimer(r.cfg.StopBound)
	defer bound.Stop()
	select {
	case <-done:
	case <-bound.C:
		logging.L().Warn("engine: graceful stop exceeded bound; forcing", "bound", r.cfg.StopBound)
		r.ctlSrv.Stop()
	case <-ctx.Done():
		r.ctlSrv.Stop()
	}

	sctx, cancel := context.WithTimeout(context.Background(), r.cfg.StopBound)
	defer cancel()
	if err := r.uiSrv.Shutdown(sctx); err != nil {
		_ = r.uiSrv.Close()
	}

	logging.L().Info("engine resource stopped")
	return nil
}
