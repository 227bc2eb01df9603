// Package status serves a small read-only HTTP view of the running poller.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/upd8r/upd8r/internal/engine"
	"github.com/upd8r/upd8r/internal/update"
)

const (
	requestTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Poller is the part of engine.Poller the server reads.
type Poller interface {
	Snapshot() engine.Snapshot
}

// Watermarks reports the current watermark of a media.
type Watermarks interface {
	Peek(ctx context.Context, m update.Media) uint64
}

type mediaView struct {
	engine.MediaStatus
	Watermark uint64 `json:"watermark"`
}

type statusView struct {
	Ticks    uint64      `json:"ticks"`
	LastTick time.Time   `json:"last_tick"`
	Media    []mediaView `json:"media"`
}

type Server struct {
	poller Poller
	marks  Watermarks
	log    zerolog.Logger
}

func New(poller Poller, marks Watermarks, log zerolog.Logger) *Server {
	return &Server{
		poller: poller,
		marks:  marks,
		log:    log.With().Str("comp", "status").Logger(),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/media/{key}", s.handleMedia)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: requestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.poller.Snapshot()
	view := statusView{Ticks: snap.Ticks, LastTick: snap.LastTick, Media: make([]mediaView, 0, len(snap.Media))}
	for _, ms := range snap.Media {
		view.Media = append(view.Media, s.view(r.Context(), ms))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	for _, ms := range s.poller.Snapshot().Media {
		if ms.Key == key {
			writeJSON(w, http.StatusOK, s.view(r.Context(), ms))
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown media")
}

func (s *Server) view(ctx context.Context, ms engine.MediaStatus) mediaView {
	mv := mediaView{MediaStatus: ms}
	if s.marks != nil {
		mv.Watermark = s.marks.Peek(ctx, ms.Media)
	}
	return mv
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
