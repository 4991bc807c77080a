package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"alerttrader/internal/domain"
)

// Engine is the orchestration surface the API drives.
type Engine interface {
	ProcessService(ctx context.Context, userID, serviceID string, intent domain.OrderIntent) (domain.OrderResult, error)
	ProcessMarket(ctx context.Context, userID string, market domain.Market, intent domain.OrderIntent) ([]domain.OrderResult, error)
	CreateSession(ctx context.Context, userID, serviceID string) (*domain.Session, error)
	Account(ctx context.Context, userID, serviceID string) (map[string]any, error)
}

// Store registers services and lists past attempts.
type Store interface {
	CreateService(ctx context.Context, cred domain.ServiceCredential) (domain.ServiceCredential, error)
	ListAttempts(ctx context.Context, userID string, limit int) ([]domain.OrderAttempt, error)
}

// Archive reads the attempts archived for one UTC day, oldest first.
type Archive interface {
	ReadAttempts(ctx context.Context, day time.Time) ([]domain.OrderAttempt, error)
}

// dayLayout is the format of the attempts day query.
const dayLayout = "2006-01-02"

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Server serves the REST API.
type Server struct {
	engine  Engine
	store   Store
	archive Archive
	log     *slog.Logger
	version string
	brokers []string
}

// NewServer creates a new REST server.
func NewServer(engine Engine, store Store, log *slog.Logger, version string, brokers []string) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:  engine,
		store:   store,
		log:     log,
		version: version,
		brokers: brokers,
	}
}

// WithArchive serves ?day= attempt queries from a.
func (s *Server) WithArchive(a Archive) *Server {
	s.archive = a
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/version", s.handleVersion)
	mux.HandleFunc("POST /api/v1/intents", s.handleIntent)
	mux.HandleFunc("POST /api/v1/services", s.handleCreateService)
	mux.HandleFunc("POST /api/v1/sessions/{userID}/{serviceID}", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/accounts/{userID}/{serviceID}", s.handleAccount)
	mux.HandleFunc("GET /api/v1/attempts/{userID}", s.handleAttempts)
}

// Handler returns an http.Handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// writeError replies with the status of err's kind. Unclassified errors are
// internal.
func writeError(w http.ResponseWriter, err error, result any) {
	resp := ErrorResponse{Error: err.Error(), Result: result}
	kind := domain.KindOf(err)
	resp.Kind = string(kind)
	var derr *domain.Error
	if errors.As(err, &derr) {
		resp.Details = derr.Details
	}
	writeJSON(w, StatusFor(kind), resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version, Brokers: s.brokers})
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	results, err := Dispatch(r.Context(), s.engine, req)
	if err != nil {
		var result any
		if len(results) == 1 {
			result = results[0]
		}
		writeError(w, err, result)
		return
	}
	writeJSON(w, http.StatusOK, IntentResponse{Results: results})
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	cred, err := s.store.CreateService(r.Context(), req.credential())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	s.log.Info("service created", "user", cred.UserID, "service", cred.ID, "broker", string(cred.BrokerType))
	writeJSON(w, http.StatusCreated, cred)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.CreateSession(r.Context(), r.PathValue("userID"), r.PathValue("serviceID"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.engine.Account(r.Context(), r.PathValue("userID"), r.PathValue("serviceID"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, domain.Validationf("invalid limit %q", v), nil)
			return
		}
		limit = n
	}
	if day := r.URL.Query().Get("day"); day != "" {
		s.handleArchivedAttempts(w, r, userID, day, limit)
		return
	}
	attempts, err := s.store.ListAttempts(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if attempts == nil {
		attempts = []domain.OrderAttempt{}
	}
	writeJSON(w, http.StatusOK, AttemptsResponse{UserID: userID, Attempts: attempts})
}

// handleArchivedAttempts lists userID's attempts from the archive file of
// day, newest first.
func (s *Server) handleArchivedAttempts(w http.ResponseWriter, r *http.Request, userID, day string, limit int) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		writeError(w, domain.Validationf("invalid day %q", day), nil)
		return
	}
	if s.archive == nil {
		writeError(w, domain.NotFoundf("no attempt archive configured"), nil)
		return
	}
	all, err := s.archive.ReadAttempts(r.Context(), t)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	attempts := []domain.OrderAttempt{}
	for _, a := range slices.Backward(all) {
		if a.UserID != userID {
			continue
		}
		attempts = append(attempts, a)
		if len(attempts) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, AttemptsResponse{UserID: userID, Day: day, Attempts: attempts})
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// Dispatch runs req against its service, or fans it out to the user's
// market. A single-service failure returns its result together with the
// causal error; a fan-out only fails when the services cannot be listed.
func Dispatch(ctx context.Context, e Engine, req IntentRequest) ([]domain.OrderResult, error) {
	intent, err := req.Intent()
	if err != nil {
		return nil, err
	}
	if req.ServiceID != "" {
		res, err := e.ProcessService(ctx, req.UserID, req.ServiceID, intent)
		return []domain.OrderResult{res}, err
	}
	market, err := ParseMarket(req.Market)
	if err != nil {
		return nil, err
	}
	results, err := e.ProcessMarket(ctx, req.UserID, market, intent)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []domain.OrderResult{}
	}
	return results, nil
}

// ParseMarket accepts "equities", "cryptocurrency", or "crypto".
func ParseMarket(s string) (domain.Market, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(domain.MarketEquities):
		return domain.MarketEquities, nil
	case string(domain.MarketCrypto), "crypto":
		return domain.MarketCrypto, nil
	}
	return "", domain.Validationf("invalid market %q", s)
}
