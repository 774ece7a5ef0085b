package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsclarke/firmcheck/internal/logging"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

type ServerConfig struct {
	Addr              string
	Handler           http.Handler
	TLSConfig         *tls.Config
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// WriteTimeout must cover a full existence check including the oracle call.
	WriteTimeout time.Duration
}

func DefaultServerConfig(addr string, handler http.Handler, logger *zap.Logger) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		Handler:           handler,
		Logger:            logger,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
}

// ManagedServer is an http.Server whose listener is bound up front, so
// address errors surface from Listen rather than from a background goroutine.
type ManagedServer struct {
	server   *http.Server
	logger   *zap.Logger
	name     string
	listener net.Listener
	errCh    chan error
}

func NewManagedServer(name string, cfg ServerConfig) *ManagedServer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)

	return &ManagedServer{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			TLSConfig:         cfg.TLSConfig,
			ErrorLog:          errLog,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: logger,
		name:   name,
		errCh:  make(chan error, 1),
	}
}

// Listen binds the server address.
func (m *ManagedServer) Listen() error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("%s failed to listen: %w", m.name, err)
	}
	if m.server.TLSConfig != nil {
		ln = tls.NewListener(ln, m.server.TLSConfig)
	}
	m.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (m *ManagedServer) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Start serves on the bound listener in the background.
func (m *ManagedServer) Start() {
	m.logger.Info("server started", zap.String("server", m.name), logging.Addr(m.listener.Addr().String()))
	go func() {
		err := m.server.Serve(m.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- err
		}
		close(m.errCh)
	}()
}

// Err delivers a fatal serve error, and is closed once the server stops.
func (m *ManagedServer) Err() <-chan error { return m.errCh }

func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.listener == nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.String("server", m.name), zap.Error(err))
	}
}
