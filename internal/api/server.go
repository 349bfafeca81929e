package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openbridge/openbridge/internal/config"
	"github.com/openbridge/openbridge/internal/state"
	"github.com/openbridge/openbridge/internal/tools"
	"github.com/openbridge/openbridge/internal/trace"
	"github.com/openbridge/openbridge/internal/upstream"
)

// Server ties the HTTP surface to its backing stores and owns their
// lifecycle.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	http     *http.Server
	listener net.Listener
	store    state.Store
	tracer   *trace.Recorder
}

// New wires a server from configuration: tool registry, upstream client,
// state store, trace side-car and router.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	store, err := state.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init state store: %w", err)
	}
	traceStore, err := trace.New(cfg)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("init trace store: %w", err)
	}
	tracer := trace.NewRecorder(traceStore, trace.SanitizeConfig{
		ContentMode: cfg.TraceContentMode,
		MaxChars:    cfg.TraceMaxChars,
	}, cfg.TraceTTLSeconds, logger)

	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, cfg.RequestTimeout())
	handler := NewHandler(cfg, logger, tools.NewRegistry(), client, store, tracer)

	router := mux.NewRouter()
	SetupRoutes(router, handler)

	return &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		tracer: tracer,
		http: &http.Server{
			Handler: router,
			// No write timeout: SSE responses stay open for as long as
			// the upstream streams.
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

// Start binds the configured address and serves in the background. Bind and
// certificate problems surface here; later serve errors are logged.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	scheme := "http"
	if s.cfg.TLSEnabled() {
		cert, err := loadTLSCertificate(s.cfg)
		if err != nil {
			listener.Close()
			return err
		}
		listener = tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		scheme = "https"
	}
	s.listener = listener
	s.logger.Info("server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("scheme", scheme))

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, which differs from the configured one when
// port 0 was requested.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr()
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests and releases the stores.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error
	if err := s.http.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.tracer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// loadTLSCertificate reads the configured cert/key pair. A configured
// password unlocks a legacy RFC 1423 encrypted PEM key.
func loadTLSCertificate(cfg *config.Config) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(cfg.TLSCertFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read tls certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.TLSKeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read tls key: %w", err)
	}
	if cfg.TLSKeyFilePassword != "" {
		keyPEM, err = decryptPEMKey(keyPEM, cfg.TLSKeyFilePassword)
		if err != nil {
			return tls.Certificate{}, err
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load tls key pair: %w", err)
	}
	return cert, nil
}

// decryptPEMKey converts an encrypted legacy PEM key into its decrypted form.
// The deprecated x509 helpers are the only standard library support for this
// key format; unencrypted keys pass through untouched.
func decryptPEMKey(keyPEM []byte, password string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("tls key is not PEM encoded")
	}
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("decrypt tls key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
