// Package api provides the HTTP and gRPC servers for the market-hours oracle,
// exposing oracle creation, cranking, status and receipt streaming.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"markethours/internal/config"
	"markethours/internal/metrics"
	"markethours/internal/oracle"
	"markethours/internal/util"
)

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	cfg     *config.Config
	svc     *oracle.Service
	hub     *Hub
	metrics *metrics.Collector
	log     *slog.Logger

	airdropLimiter *util.RateLimiter

	grpcService *OracleService
	httpServer  *http.Server
	grpcServer  *grpc.Server
}

// NewServer creates a Server. hub and collector should already be observing
// the engine behind svc.
func NewServer(cfg *config.Config, svc *oracle.Service, hub *Hub, collector *metrics.Collector, log *slog.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		svc:            svc,
		hub:            hub,
		metrics:        collector,
		log:            log,
		airdropLimiter: util.NewRateLimiter(cfg.Server.AirdropPerMinute),
	}
	s.grpcService = NewOracleService(svc, hub, cfg.Server.AllowAirdrop, s.airdropLimiter, log)
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/oracle", s.handleStatus)
	mux.HandleFunc("POST /api/v1/oracle", s.handleCreate)
	mux.HandleFunc("POST /api/v1/oracle/crank", s.handleCrank)
	mux.HandleFunc("POST /api/v1/airdrop", s.handleAirdrop)
	mux.HandleFunc("GET /api/v1/accounts/{address}/balance", s.handleBalance)
	mux.HandleFunc("GET /api/v1/clock", s.handleClock)
	mux.HandleFunc("GET /api/v1/receipts", s.handleReceipts)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns an http.Handler with metrics and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.metrics.InstrumentHandler(mux))
}

// RegisterGRPC registers the oracle service on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	s.grpcService.RegisterGRPC(gs)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. On cancellation both servers
// are shut down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.HTTPAddr(), err)
	}
	grpcLn, err := net.Listen("tcp", s.cfg.GRPCAddr())
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listening on %s: %w", s.cfg.GRPCAddr(), err)
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs both servers on the given listeners.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	// Event streams hang off baseCtx so shutdown can end them.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	s.httpServer.RegisterOnShutdown(cancelBase)
	s.grpcServer = grpc.NewServer()
	s.RegisterGRPC(s.grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.log.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := s.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serving gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.grpcServer != nil {
		s.grpcService.Close()
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	return err
}
