package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

type Server struct {
	*http.Server
	// CleanUpFuncs are called concurrently once the http server stopped accepting requests.
	CleanUpFuncs []func(ctx context.Context)
	// ShutdownTimeout bounds the http shutdown and the clean up functions together.
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func (s *Server) AddCleanupFunc(f func(context.Context)) {
	s.CleanUpFuncs = append(s.CleanUpFuncs, f)
}

// Run serves on l until ctx is done, then shuts down gracefully.
// It returns nil when the shutdown finished within the timeout.
func (s *Server) Run(ctx context.Context, l net.Listener) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	s.Server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}

	serveErr := make(chan error, 1)
	go func() {
		s.Logger.Info("server started", slog.String("addr", l.Addr().String()))
		err := s.Server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	s.Logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		s.Logger.Error("http shutdown", slog.String("err", err.Error()))
	}

	var wg sync.WaitGroup
	for _, f := range s.CleanUpFuncs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(shutdownCtx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.Logger.Info("server shutdown gracefully")
		return nil
	case <-shutdownCtx.Done():
		return errors.New("graceful shutdown timed out")
	}
}
