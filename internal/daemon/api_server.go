package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"intake/internal/api"
	"intake/internal/config"
	"intake/internal/logging"
	"intake/internal/submission"
)

const (
	holderHeader   = "X-Holder-ID"
	maxBodyBytes   = 1 << 20
	beaconDeadline = 5 * time.Second
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	service *api.LeaseService
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, svc *api.LeaseService, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		service: svc,
	}
	srv.handler = srv.routes(cfg.Paths.APIToken)
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))

		r.Get("/api/sessions", s.handleSessions)
		r.Route("/api/sessions/{session}", func(r chi.Router) {
			r.Get("/status", s.handleSessionStatus)
			r.With(requireHolder).Post("/next", s.handleNext)
		})

		r.Route("/api/items/{id}", func(r chi.Router) {
			r.Get("/", s.handleItem)
			r.Get("/assets", s.handleAssets)
			r.Post("/release", s.handleRelease)
			r.Group(func(r chi.Router) {
				r.Use(requireHolder)
				r.Post("/renew", s.handleRenew)
				r.Post("/skip", s.handleSkip)
				r.Post("/submit", s.handleSubmit)
				r.Patch("/url", s.handleUpdateURL)
			})
		})
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, healthy := s.service.Health(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.Sessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: sessions})
}

func (s *apiServer) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	session, err := sessionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.service.Status(r.Context(), session)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleNext(w http.ResponseWriter, r *http.Request) {
	session, err := sessionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.service.Next(r.Context(), session, holderFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemResponse{Item: item})
}

func (s *apiServer) handleItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.service.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemResponse{Item: item})
}

func (s *apiServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	id, err := itemParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	listed, err := s.service.Assets(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetListResponse{Assets: listed})
}

func (s *apiServer) handleRenew(w http.ResponseWriter, r *http.Request) {
	id, err := itemParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	renewal, err := s.service.Renew(r.Context(), id, holderFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renewal)
}

// handleRelease serves both the regular release and the page-teardown
// beacon. Beacons always get 202: the sender has already gone away.
func (s *apiServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	beacon := isBeacon(r)
	id, idErr := itemParam(r)
	holder := holderFrom(r)

	if beacon {
		if idErr == nil && holder != "" {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), beaconDeadline)
			defer cancel()
			if err := s.service.Release(ctx, id, holder); err != nil {
				logging.WithContext(r.Context(), s.logger).Debug("beacon release failed",
					logging.ItemID(id), logging.Error(err))
			}
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if idErr != nil {
		s.writeError(w, r, idErr)
		return
	}
	if holder == "" {
		s.writeError(w, r, errMissingHolder)
		return
	}
	if err := s.service.Release(r.Context(), id, holder); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSkip(w http.ResponseWriter, r *http.Request) {
	id, err := itemParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.service.Skip(r.Context(), id, holderFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := itemParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var payload submission.Payload
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.service.Submit(r.Context(), id, holderFrom(r), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemResponse{Item: item})
}

func (s *apiServer) handleUpdateURL(w http.ResponseWriter, r *http.Request) {
	id, err := itemParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.UpdateURLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.service.UpdateURL(r.Context(), id, holderFrom(r), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemResponse{Item: item})
}

var errMissingHolder = &api.BadRequest{Message: "holder is required (X-Holder-ID header or holder query parameter)"}

func holderFrom(r *http.Request) string {
	if holder, ok := logging.HolderFromContext(r.Context()); ok {
		return holder
	}
	if holder := strings.TrimSpace(r.Header.Get(holderHeader)); holder != "" {
		return holder
	}
	return strings.TrimSpace(r.URL.Query().Get("holder"))
}

func isBeacon(r *http.Request) bool {
	value := r.URL.Query().Get("beacon")
	return value == "1" || strings.EqualFold(value, "true")
}

func itemParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &api.BadRequest{Message: fmt.Sprintf("invalid item id %q", raw)}
	}
	return id, nil
}

func sessionParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "session")
	session, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(session) == "" {
		return "", &api.BadRequest{Message: fmt.Sprintf("invalid session %q", raw)}
	}
	return session, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return &api.BadRequest{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError maps err through api.StatusFor. Exhaustion and contention are
// expected outcomes and are not logged as errors.
func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := api.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("request failed",
			logging.String("path", r.URL.Path), logging.Error(err))
	}
	s.writeJSON(w, status, api.NewErrorResponse(err))
}
