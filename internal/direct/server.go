// Package direct receives attribute changes that the hub pushes after
// EnableDirectCallback has pointed it at this process.
package direct

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hubbridge/internal/hub"
)

// changeEvent is the body the SmartApp posts for each attribute change.
type changeEvent struct {
	Name      string `json:"change_name"`
	DeviceID  string `json:"change_device"`
	Attribute string `json:"change_attribute"`
	Value     any    `json:"change_value"`
	Date      string `json:"change_date"`
}

type Server struct {
	mu        sync.RWMutex
	onUpdate  func(hub.AttributeUpdate)
	onInitial func()
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
}

// NewServer builds a receiver. gatherer may be nil, in which case /metrics
// is not mounted.
func NewServer(gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		gatherer: gatherer,
		logger:   logger.With("component", "direct"),
	}
}

func (s *Server) OnUpdate(fn func(hub.AttributeUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// OnInitial is called when the hub announces itself, typically right after
// direct mode was enabled.
func (s *Server) OnInitial(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInitial = fn
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Post("/initial", s.handleInitial)
	r.Post("/update", s.handleUpdate)
	return r
}

func (s *Server) handleInitial(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("hub connected", "remote", r.RemoteAddr)
	s.mu.RLock()
	fn := s.onInitial
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var evt changeEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&evt); err != nil {
		s.logger.Debug("bad update body", "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if evt.DeviceID == "" || evt.Attribute == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "change_device and change_attribute are required"})
		return
	}

	id := uuid.NewString()
	s.logger.Debug("update received", "id", id, "device", evt.DeviceID, "name", evt.Name, "attribute", evt.Attribute, "value", evt.Value)

	s.mu.RLock()
	fn := s.onUpdate
	s.mu.RUnlock()
	if fn != nil {
		fn(hub.AttributeUpdate{
			DeviceID:  evt.DeviceID,
			Attribute: evt.Attribute,
			Value:     evt.Value,
			Date:      evt.Date,
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": id})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("direct receiver started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("shutting down direct receiver")
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
