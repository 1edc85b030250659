// Package server exposes a blob store over HTTP so several processes can
// share one graph cache. store.HTTPStore is the matching client.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/compcache/internal/store"
)

// Config holds server configuration
type Config struct {
	// Address is the server listen address (e.g., ":8080")
	Address string

	// Timeouts
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration

	// MaxHeaderBytes limits request headers
	MaxHeaderBytes int

	// MaxBlobSize limits PUT bodies; larger uploads get 413
	MaxBlobSize int64

	// ShutdownTimeout bounds graceful shutdown in Run
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a production-ready server configuration
func DefaultConfig() Config {
	return Config{
		Address:           ":8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
		MaxBlobSize:       16 << 20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Server serves a store over HTTP
type Server struct {
	httpServer *http.Server
	config     Config
	listener   net.Listener
	logger     *zap.Logger
}

// New creates a server for s. A nil logger discards everything.
func New(s store.Store, config Config, logger *zap.Logger) (*Server, error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxBlobSize <= 0 {
		config.MaxBlobSize = DefaultConfig().MaxBlobSize
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              config.Address,
			Handler:           NewHandler(s, config.MaxBlobSize, logger),
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			MaxHeaderBytes:    config.MaxHeaderBytes,
		},
		config: config,
		logger: logger,
	}, nil
}

// Listen binds the listen address without serving yet
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	return nil
}

// Start serves until the server is shut down. It listens first if Listen
// was not called.
func (s *Server) Start() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("blob server listening", zap.String("addr", s.Addr()))
	return s.httpServer.Serve(s.listener)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("blob server shutting down")
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Close immediately closes the server
func (s *Server) Close() error {
	return s.httpServer.Close()
}

// Addr returns the server's network address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}
