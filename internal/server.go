package internal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wormhole-demo/verifier/internal/replay"
)

// VerificationRequest and VerificationResponse form the JSON contract of the
// verification service. Relayers POST hex-encoded VAA bytes and act on the
// verdict.
type VerificationRequest struct {
	VAABytes string `json:"vaaBytes"`
}

type VerificationResponse struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Server exposes the processor over HTTP: POST /verify, GET /health and
// GET /metrics.
type Server struct {
	processor *Processor
	logger    *zap.Logger
	srv       *http.Server
}

func NewServer(logger *zap.Logger, processor *Processor, addr string, registry *prometheus.Registry) *Server {
	s := &Server{
		processor: processor,
		logger:    logger.With(zap.String("component", "Server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Verification service listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, VerificationResponse{Error: "invalid JSON body"})
		return
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(req.VAABytes, "0x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, VerificationResponse{Error: "vaaBytes is not valid hex"})
		return
	}

	msg, err := s.processor.Submit(r.Context(), raw)
	if err != nil {
		if errors.Is(err, replay.ErrAlreadyProcessed) {
			// Idempotent outcome, not a fault
			writeJSON(w, http.StatusOK, VerificationResponse{Success: true, Duplicate: true})
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, VerificationResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, VerificationResponse{
		Success:   true,
		MessageID: msg.VAA.MessageID(),
		Digest:    msg.VAA.HexDigest(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, body VerificationResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
