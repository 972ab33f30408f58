// Package server exposes the gateway and the decomposition service over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sista/internal/decompose"
	"sista/internal/gateway"
	"sista/internal/logging"
)

const (
	maxRequestBody    = 1 << 20
	readHeaderTimeout = 3 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Chatter is the gateway call behind POST /chat.
type Chatter interface {
	Ask(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// Decomposer is the service call behind POST /ai/todos.
type Decomposer interface {
	Decompose(ctx context.Context, prompt string, cc decompose.CallerContext) (decompose.Outcome, error)
}

type Server struct {
	mux        *http.ServeMux
	chat       Chatter
	decomposer Decomposer
	logger     *zap.Logger
}

func New(chat Chatter, decomposer Decomposer, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	s := &Server{
		mux:        http.NewServeMux(),
		chat:       chat,
		decomposer: decomposer,
		logger:     logger,
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("POST /ai/todos", s.handleTodos)
	return s
}

// Handler returns the router wrapped with request ids and access logging.
func (s *Server) Handler() http.Handler {
	return withRequestID(withAccessLog(s.mux, s.logger))
}

// Run 监听 addr 直到 ctx 结束，然后优雅关闭
// Run serves h on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, h, logger)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
