package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/billing"
	"github.com/artwise/artwise/internal/config"
	"github.com/artwise/artwise/internal/credentials"
	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime/protocol"
	"github.com/artwise/artwise/internal/realtime/transport"
)

// Issuer mints ephemeral realtime credentials.
type Issuer interface {
	Issue(ctx context.Context, cfg protocol.SessionConfig) (transport.Handle, error)
}

type Server struct {
	cfg     config.Config
	issuer  Issuer
	ledger  *billing.Ledger
	grants  *credentials.Registry
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(cfg config.Config, issuer Issuer, ledger *billing.Ledger, grants *credentials.Registry, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		issuer:  issuer,
		ledger:  ledger,
		grants:  grants,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/perf/latency/reset", s.handlePerfLatencyReset)

	r.Post(transport.SessionConfigPath, s.handleSessionConfig)

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/account", s.handleGetAccount)
		r.Put("/blocked", s.handleSetBlocked)
		r.Get("/charges", s.handleListCharges)
		r.Post("/charges", s.handleCharge)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Put("/sessions/{sessionID}", s.handlePutSession)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"store_mode":         s.storeMode(),
		"issuer_configured":  s.issuer != nil,
		"active_credentials": s.grants.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ledger.Store().Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	if s.issuer == nil {
		respondError(w, http.StatusServiceUnavailable, "issuer_unconfigured", "OPENAI_API_KEY is not set")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleSessionConfig(w http.ResponseWriter, r *http.Request) {
	var req transport.SessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.metrics.ObserveCredentialRequest("invalid")
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		s.metrics.ObserveCredentialRequest("invalid")
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user_id is required")
		return
	}
	if err := req.Config.Validate(); err != nil {
		s.metrics.ObserveCredentialRequest("invalid")
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	if s.issuer == nil {
		s.metrics.ObserveCredentialRequest("unavailable")
		respondError(w, http.StatusServiceUnavailable, "issuer_unconfigured", "credential issuer is not configured")
		return
	}

	if _, err := s.ledger.Authorize(r.Context(), req.UserID, usageFor(req.Config)); err != nil {
		if errors.Is(err, billing.ErrInsufficientCredits) || errors.Is(err, billing.ErrAccountBlocked) {
			s.metrics.ObserveCredentialRequest("rejected")
			respondError(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
			return
		}
		s.metrics.ObserveCredentialRequest("error")
		respondError(w, http.StatusInternalServerError, "billing_error", err.Error())
		return
	}

	issueStart := time.Now()
	h, err := s.issuer.Issue(r.Context(), req.Config)
	s.metrics.ObserveStage(observability.StageCredentialIssue, time.Since(issueStart))
	if err != nil {
		s.metrics.ObserveCredentialRequest("upstream_error")
		s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("credential issue failed")
		respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	grant := s.grants.Add(req.UserID, h)
	s.metrics.ObserveCredentialRequest("ok")
	s.logger.Info().
		Str("user_id", req.UserID).
		Str("grant_id", grant.ID).
		Str("remote_session_id", h.SessionID).
		Time("expires_at", grant.ExpiresAt).
		Msg("realtime credential issued")
	respondJSON(w, http.StatusCreated, h)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Account(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, acct)
}

type blockRequest struct {
	Blocked bool `json:"blocked"`
}

func (s *Server) handleSetBlocked(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	acct, err := s.ledger.SetBlocked(r.Context(), chi.URLParam(r, "userID"), req.Blocked)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, acct)
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	var req billing.ChargeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := billing.Cost(req.UsageType); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_usage_type", err.Error())
		return
	}
	acct, err := s.ledger.Charge(r.Context(), chi.URLParam(r, "userID"), req.SessionID, req.UsageType)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleListCharges(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.Transactions(r.Context(), chi.URLParam(r, "userID"), limitParam(r))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"charges": txs})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sums, err := s.ledger.Sessions(r.Context(), chi.URLParam(r, "userID"), limitParam(r))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sums})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.Session(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	var sum billing.SessionSummary
	if err := decodeJSON(r, &sum); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sum.UserID = chi.URLParam(r, "userID")
	sum.ID = chi.URLParam(r, "sessionID")

	// A summary may only name a remote session that was issued to the same user.
	if sum.RemoteSessionID != "" {
		if owner, ok := s.grants.OwnerOf(sum.RemoteSessionID); ok && owner != sum.UserID {
			respondError(w, http.StatusForbidden, "forbidden", "remote session belongs to another user")
			return
		}
	}

	out, err := s.ledger.Record(r.Context(), sum)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteSession(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "sessionID")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, billing.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("billing store error")
	respondError(w, http.StatusInternalServerError, "store_error", err.Error())
}

func (s *Server) storeMode() string {
	if _, ok := s.ledger.Store().(*billing.PostgresStore); ok {
		return "postgres"
	}
	return "in-memory"
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// cors lets browser clients on other origins reach the API when APP_ALLOW_ANY_ORIGIN is set.
// Same-origin requests and clients without an Origin header are always allowed.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" && (s.cfg.AllowAnyOrigin || sameOrigin(origin, r.Host)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && origin != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

func usageFor(cfg protocol.SessionConfig) billing.UsageType {
	if len(cfg.Modalities) > 0 && !cfg.HasModality(protocol.ModalityAudio) {
		return billing.UsageTextConversation
	}
	return billing.UsageLiveAudioConversation
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 50
	}
	if n > 500 {
		return 500
	}
	return n
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
