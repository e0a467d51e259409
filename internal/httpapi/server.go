// Package httpapi serves the REST surface: profile CRUD, ring triggers
// and status, the event log, health and metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/sipring/internal/dialog"
	"github.com/sweeney/sipring/internal/ring"
	"github.com/sweeney/sipring/internal/store"
)

// Options configures the server.
type Options struct {
	// Username and Password enable basic auth on everything except
	// /healthz. Both empty means no auth.
	Username string
	Password string

	// MetricsHandler serves GET /metrics (promhttp). Nil disables the route.
	MetricsHandler http.Handler
}

// Server is the HTTP API over a ring service.
type Server struct {
	svc  *ring.Service
	opts Options
	mux  *http.ServeMux
}

// New builds the routing table.
func New(svc *ring.Service, opts Options) *Server {
	s := &Server{svc: svc, opts: opts, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", s.auth(opts.MetricsHandler))
	}

	s.mux.Handle("GET /api/configs", s.authFunc(s.handleListConfigs))
	s.mux.Handle("POST /api/configs", s.authFunc(s.handleCreateConfig))
	s.mux.Handle("GET /api/configs/{idOrSlug}", s.authFunc(s.handleGetConfig))
	s.mux.Handle("PUT /api/configs/{idOrSlug}", s.authFunc(s.handleUpdateConfig))
	s.mux.Handle("DELETE /api/configs/{idOrSlug}", s.authFunc(s.handleDeleteConfig))

	s.mux.Handle("GET /ring/{idOrSlug}", s.authFunc(s.handleTrigger))
	s.mux.Handle("GET /ring/{idOrSlug}/cancel", s.authFunc(s.handleCancelProfile))
	s.mux.Handle("GET /api/rings/{handle}", s.authFunc(s.handleRingStatus))
	s.mux.Handle("POST /api/rings/{handle}/cancel", s.authFunc(s.handleCancelRing))

	s.mux.Handle("GET /api/events", s.authFunc(s.handleListEvents))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// auth wraps a handler with basic-auth enforcement when configured.
func (s *Server) auth(next http.Handler) http.Handler {
	if s.opts.Username == "" && s.opts.Password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.Password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="sipring"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authFunc(fn http.HandlerFunc) http.Handler {
	return s.auth(fn)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// profilePayload is the wire form of a profile: durations in seconds.
type profilePayload struct {
	ID              string     `json:"id,omitempty"`
	Name            string     `json:"name"`
	Slug            string     `json:"slug,omitempty"`
	SIPUser         string     `json:"sip_user"`
	SIPServer       string     `json:"sip_server"`
	SIPPort         int        `json:"sip_port,omitempty"`
	CallerName      string     `json:"caller_name,omitempty"`
	CallerUser      string     `json:"caller_user,omitempty"`
	RingDurationSec int        `json:"ring_duration,omitempty"`
	LocalPort       int        `json:"local_port,omitempty"`
	OverlapPolicy   string     `json:"overlap_policy,omitempty"`
	Enabled         *bool      `json:"enabled,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	LastRingAt      *time.Time `json:"last_ring_at,omitempty"`
	LastRingStatus  string     `json:"last_ring_status,omitempty"`
}

func toPayload(p store.Profile) profilePayload {
	enabled := p.Enabled
	created := p.CreatedAt
	return profilePayload{
		ID:              p.ID,
		Name:            p.Name,
		Slug:            p.Slug,
		SIPUser:         p.SIPUser,
		SIPServer:       p.SIPServer,
		SIPPort:         p.SIPPort,
		CallerName:      p.CallerName,
		CallerUser:      p.CallerUser,
		RingDurationSec: int(p.RingDuration / time.Second),
		LocalPort:       p.LocalPort,
		OverlapPolicy:   p.OverlapPolicy,
		Enabled:         &enabled,
		CreatedAt:       &created,
		LastRingAt:      p.LastRingAt,
		LastRingStatus:  p.LastRingState,
	}
}

func (p profilePayload) toProfile() store.Profile {
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	return store.Profile{
		ID:            p.ID,
		Name:          p.Name,
		Slug:          p.Slug,
		SIPUser:       p.SIPUser,
		SIPServer:     p.SIPServer,
		SIPPort:       p.SIPPort,
		CallerName:    p.CallerName,
		CallerUser:    p.CallerUser,
		RingDuration:  time.Duration(p.RingDurationSec) * time.Second,
		LocalPort:     p.LocalPort,
		OverlapPolicy: p.OverlapPolicy,
		Enabled:       enabled,
	}
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.svc.Store().ListProfiles(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	out := make([]profilePayload, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, toPayload(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var payload profilePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	p := payload.toProfile()
	p.ID = "" // server-assigned
	if err := s.svc.Store().CreateProfile(r.Context(), &p); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayload(p))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Store().GetProfile(r.Context(), r.PathValue("idOrSlug"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(p))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	existing, err := s.svc.Store().GetProfile(r.Context(), r.PathValue("idOrSlug"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	var payload profilePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	p := payload.toProfile()
	p.ID = existing.ID
	if err := s.svc.Store().UpdateProfile(r.Context(), &p); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(p))
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Store().DeleteProfile(r.Context(), r.PathValue("idOrSlug")); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ringResponse struct {
	HandleID       string `json:"handle_id,omitempty"`
	State          string `json:"state"`
	ElapsedSeconds int    `json:"elapsed_seconds,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func ringStatusResponse(st ring.Status) ringResponse {
	return ringResponse{
		HandleID:       st.HandleID,
		State:          string(st.State),
		ElapsedSeconds: int(st.Elapsed / time.Second),
		Outcome:        string(st.Outcome),
		Reason:         string(st.Reason),
	}
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var override time.Duration
	if raw := r.URL.Query().Get("duration"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 1 || seconds > 300 {
			writeError(w, http.StatusBadRequest, "duration must be an integer between 1 and 300")
			return
		}
		override = time.Duration(seconds) * time.Second
	}

	st, err := s.svc.TriggerProfile(r.Context(), r.PathValue("idOrSlug"), override)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ring.ErrDisabled):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.serverError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, ringResponse{HandleID: st.HandleID, State: string(st.State)})
}

func (s *Server) handleCancelProfile(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.CancelProfile(r.Context(), r.PathValue("idOrSlug"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !st.Found {
		writeJSON(w, http.StatusOK, ringResponse{State: string(dialog.StateTerminated)})
		return
	}
	writeJSON(w, http.StatusOK, ringResponse{HandleID: st.HandleID, State: string(st.State)})
}

func (s *Server) handleRingStatus(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Coordinator().Status(r.PathValue("handle"))
	if !st.Found {
		writeError(w, http.StatusNotFound, "unknown ring handle")
		return
	}
	writeJSON(w, http.StatusOK, ringStatusResponse(st))
}

func (s *Server) handleCancelRing(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Coordinator().Cancel(r.PathValue("handle"))
	if !st.Found {
		writeError(w, http.StatusNotFound, "unknown ring handle")
		return
	}
	writeJSON(w, http.StatusOK, ringResponse{HandleID: st.HandleID, State: string(st.State)})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.svc.Store().ListEvents(r.Context(), r.URL.Query().Get("config"), limit)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if events == nil {
		events = []store.RingEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrSlugTaken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		// Validation failures from the store are client errors; anything
		// wrapped is infrastructure.
		var wrapped interface{ Unwrap() error }
		if errors.As(err, &wrapped) {
			s.serverError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	log.Printf("http: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the API until ctx is cancelled, then drains with
// a short grace period.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}
