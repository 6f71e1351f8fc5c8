// Package server exposes the device-facing WebSocket endpoint and the
// operational HTTP surface.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/session"
)

var errNotHello = errors.New("first message must be a hello")

// Server terminates device connections and hands them to the session
// manager.
type Server struct {
	cfg     *config.Config
	manager *session.Manager
	logger  *zap.Logger
}

// New builds a server over an existing manager.
func New(cfg *config.Config, manager *session.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		manager: manager,
		logger:  logger.With(zap.String("component", "server")),
	}
}

// Handler returns the device-facing HTTP handler, exported so tests can
// mount it on httptest servers.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/v1/voice", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		s.handleWS(ctx, conn, r.Header.Get("Device-Id"))
	})
	return mux
}

// Run serves until ctx is cancelled, then drains both listeners.
func (s *Server) Run(ctx context.Context) error {
	wsServer := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Handler(ctx),
		WriteTimeout: 0, // websocket lifetimes are managed per connection
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", handleHealthz)
	metricsServer := &http.Server{
		Addr:         s.cfg.Server.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening for devices", zap.String("addr", wsServer.Addr))
		return filterClosed(wsServer.ListenAndServe())
	})
	g.Go(func() error {
		s.logger.Info("serving metrics", zap.String("addr", metricsServer.Addr))
		return filterClosed(metricsServer.ListenAndServe())
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(sctx)
		return wsServer.Shutdown(sctx)
	})
	return g.Wait()
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func filterClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
