// Package api exposes the exchange engine over HTTP and WebSocket.
//
// All monetary values are decimal strings in JSON; never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/exchange"
	"github.com/atmx/wager-engine/internal/metrics"
)

// Config holds the HTTP layer's settings.
type Config struct {
	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins    []string
	RequestTimeout time.Duration
	// FaucetEnabled exposes POST /api/v1/faucet to the operator.
	FaucetEnabled bool
}

// Server holds the HTTP handlers' dependencies.
type Server struct {
	engine   *exchange.Engine
	hub      *WSHub
	verifier *auth.Verifier
	sessions *auth.Sessions // nil disables /auth/session
	cfg      Config
	log      *slog.Logger
}

// NewServer builds the HTTP layer. sessions may be nil.
func NewServer(engine *exchange.Engine, hub *WSHub, verifier *auth.Verifier, sessions *auth.Sessions, cfg Config, log *slog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:   engine,
		hub:      hub,
		verifier: verifier,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
	}
}

// Router returns the chi router serving every route.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(s.cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"service":    "wager-engine",
			"ws_clients": s.hub.Clients(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived; kept outside the request timeout.
		r.Get("/ws", s.hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			r.Use(s.verifier.Authenticate)

			r.Get("/projects", s.ListProjects)
			r.Get("/projects/{projectID}", s.GetProject)
			r.Get("/projects/{projectID}/book", s.GetBook)
			r.Get("/projects/{projectID}/tickets", s.ListProjectTickets)
			r.Get("/tickets/{tokenID}", s.GetTicket)
			r.Get("/tickets/{tokenID}/claimed", s.GetClaimed)
			r.Get("/tickets/{tokenID}/listing", s.GetListingPrice)
			r.Get("/listings", s.ListListings)
			r.Get("/accounts/{address}", s.GetAccount)
			r.Get("/events", s.ListEvents)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireCaller)

				r.Post("/auth/session", s.CreateSession)
				r.Post("/projects", s.CreateProject)
				r.Post("/projects/{projectID}/tickets", s.BuyTicket)
				r.Post("/projects/{projectID}/resolve", s.Resolve)
				r.Post("/tickets/{tokenID}/listing", s.List)
				r.Delete("/tickets/{tokenID}/listing", s.Delist)
				r.Post("/tickets/{tokenID}/buy", s.BuyListed)
				r.Post("/tickets/{tokenID}/claim", s.Claim)
				r.Post("/faucet", s.Faucet)
			})
		})
	})
	return r
}

// cors answers preflight requests and sets the allow headers, including the
// signed-request headers.
func (s *Server) cors(next http.Handler) http.Handler {
	allowHeaders := strings.Join([]string{
		"Content-Type", "Authorization",
		auth.HeaderAddress, auth.HeaderTimestamp, auth.HeaderNonce, auth.HeaderSignature,
	}, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.cfg.AllowOrigin(origin) {
			if s.allowsAny() {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowsAny() bool {
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// AllowOrigin reports whether origin is in cfg's CORS list. It suits
// NewWSHub.
func (cfg Config) AllowOrigin(origin string) bool {
	for _, o := range cfg.CORSOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind exchange.Kind) int {
	switch kind {
	case exchange.KindInvalidInput:
		return http.StatusBadRequest
	case exchange.KindUnauthorized, exchange.KindNotOwner:
		return http.StatusForbidden
	case exchange.KindNotFound:
		return http.StatusNotFound
	case exchange.KindStateConflict, exchange.KindSelfTrade, exchange.KindAlreadyClaimed:
		return http.StatusConflict
	case exchange.KindInsufficientBalance, exchange.KindNotWinner:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError renders an engine failure. Errors without a kind are
// logged and hidden behind a generic 500.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := exchange.KindOf(err)
	if kind == "" {
		s.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeError(w, statusFor(kind), exchange.CodeOf(err), strings.TrimPrefix(err.Error(), "exchange: "))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

// idParam parses a non-negative integer URL parameter.
func idParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a non-negative integer")
		return 0, false
	}
	return id, true
}

// queryUint parses an optional non-negative integer query parameter.
func queryUint(r *http.Request, name string) (uint64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, errors.New(name + " must be a non-negative integer")
	}
	return v, true, nil
}

// caller returns the authenticated address. Routes behind RequireCaller
// always have one.
func caller(r *http.Request) common.Address {
	c, _ := auth.CallerFrom(r.Context())
	return c
}
