package rpc

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tolelom/dmachain/internal/logger"
)

const maxBodyBytes = 1 << 20

// Server is a JSON-RPC 2.0 HTTP server.
type Server struct {
	handler   *Handler
	addr      string
	authToken string // empty: no auth required
	tlsConfig *tls.Config
	srv       *http.Server
	ln        net.Listener
	log       *zap.Logger
}

// NewServer creates a Server on addr. If authToken is non-empty, every
// request must carry a matching "Authorization: Bearer <token>" header.
// A non-nil tlsConfig serves HTTPS; with ClientAuth set it also enforces
// client certificates.
func NewServer(addr string, handler *Handler, authToken string, tlsConfig *tls.Config) *Server {
	s := &Server{
		handler:   handler,
		addr:      addr,
		authToken: authToken,
		tlsConfig: tlsConfig,
		log:       logger.Named("rpc"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTTP)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the port synchronously so callers learn about bind failures
// immediately, then serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.ln = ln
	s.log.Info("rpc listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", s.tlsConfig != nil))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("rpc server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address; useful when listening on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	got := []byte(r.Header.Get("Authorization"))
	want := []byte("Bearer " + s.authToken)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := r.Header.Get("X-Request-Id")
	if _, err := uuid.Parse(reqID); err != nil {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", reqID)

	if r.Method != http.MethodPost {
		http.Error(w, "only POST allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		s.log.Warn("rpc unauthorized", zap.String("request_id", reqID), zap.String("remote", r.RemoteAddr))
		writeJSON(w, errResponse(nil, CodeUnauthorized, "unauthorized"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	resp := s.handler.Dispatch(req)
	fields := []zap.Field{
		zap.String("request_id", reqID),
		zap.String("method", req.Method),
		zap.Duration("took", time.Since(start)),
	}
	if resp.Error != nil {
		fields = append(fields, zap.Int("code", resp.Error.Code), zap.String("error", resp.Error.Message))
	}
	s.log.Debug("rpc call", fields...)
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
