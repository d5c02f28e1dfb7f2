package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"

	"github.com/yndnr/wamesh-go/internal/server/config"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	certFile   string
	keyFile    string
}

// New creates a new HTTP server.
func New(cfg config.HTTPConfig, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		certFile: cfg.TLSCertFile,
		keyFile:  cfg.TLSKeyFile,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// TLS reports whether the server terminates TLS.
func (s *Server) TLS() bool {
	return s.certFile != "" && s.keyFile != ""
}

// SetCertificateSource serves certificates from getCert instead of loading
// the configured files once at startup. Call before serving.
func (s *Server) SetCertificateSource(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error)) {
	s.httpServer.TLSConfig = &tls.Config{
		GetCertificate: getCert,
		MinVersion:     tls.VersionTLS12,
	}
}

// tlsFiles returns the files passed to ServeTLS. They are empty when a
// certificate source is set.
func (s *Server) tlsFiles() (string, string) {
	if s.httpServer.TLSConfig != nil && s.httpServer.TLSConfig.GetCertificate != nil {
		return "", ""
	}
	return s.certFile, s.keyFile
}

// ListenAndServe starts the server, with TLS when a certificate is configured.
// It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	var err error
	if s.TLS() {
		err = s.httpServer.ListenAndServeTLS(s.tlsFiles())
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.TLS() {
		cert, key := s.tlsFiles()
		err = s.httpServer.ServeTLS(ln, cert, key)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
