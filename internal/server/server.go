// Package server exposes the relay's HTTP surface: the Chatwoot webhook
// receiver, the administrative config endpoint, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB

// WebhookHandler runs the reply pipeline for one event.
type WebhookHandler interface {
	Handle(ctx context.Context, event domain.InboundEvent) domain.Result
}

// ConfigUpdater persists administrative config changes.
type ConfigUpdater interface {
	Update(fields map[string]string) (*config.Config, error)
}

// Config configures the server.
type Config struct {
	Port   int
	Logger *slog.Logger
}

// Server is the relay's HTTP front end.
type Server struct {
	port     int
	pipeline WebhookHandler
	store    ConfigUpdater
	logger   *slog.Logger
	server   *http.Server
}

func New(cfg Config, pipeline WebhookHandler, store ConfigUpdater) *Server {
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	return &Server{
		port:     cfg.Port,
		pipeline: pipeline,
		store:    store,
		logger:   cfg.Logger,
	}
}

// Handler returns the routed mux; split out so tests can drive it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("POST /update_config", s.handleUpdateConfig)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	return mux
}

// Start runs the server until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	// No failure may escape the pipeline boundary as an unhandled panic.
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("webhook handler panic", "panic", rec)
			writeJSON(rw, http.StatusInternalServerError,
				domain.Result{Status: domain.StatusError, Reason: "internal error"})
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError,
			domain.Result{Status: domain.StatusError, Reason: "unreadable body"})
		return
	}
	defer r.Body.Close()

	var event domain.InboundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeJSON(rw, http.StatusInternalServerError,
			domain.Result{Status: domain.StatusError, Reason: "invalid JSON body"})
		return
	}

	s.logger.Debug("webhook received", "event", event.Event, "messages", len(event.Messages))

	result := s.pipeline.Handle(r.Context(), event)
	writeJSON(rw, http.StatusOK, result)
}

// updateConfigRequest is the admin body: at least one field required.
type updateConfigRequest struct {
	SystemMessage string `json:"system_message"`
	Model         string `json:"model"`
}

type updateConfigResponse struct {
	Message       string `json:"message"`
	SystemMessage string `json:"system_message"`
	Model         string `json:"model"`
}

func (s *Server) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	defer r.Body.Close()

	var req updateConfigRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.SystemMessage == "" && req.Model == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "no system_message or model provided"})
		return
	}

	fields := make(map[string]string)
	if req.SystemMessage != "" {
		fields["SYSTEM_MESSAGE"] = req.SystemMessage
	}
	if req.Model != "" {
		fields["LLM_MODEL"] = req.Model
	}

	if _, err := s.store.Update(fields); err != nil {
		s.logger.Error("config update failed", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := updateConfigResponse{
		Message:       "settings updated successfully",
		SystemMessage: orUnchanged(req.SystemMessage),
		Model:         orUnchanged(req.Model),
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (s *Server) handleHealthz(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func orUnchanged(v string) string {
	if v == "" {
		return "unchanged"
	}
	return v
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}
