package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/bookview"
	"github.com/atmx/wager-engine/internal/model"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// --- Request/Response types ---

// CreateProjectRequest is the JSON body for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name       string          `json:"name"`
	Options    []string        `json:"options"`
	ResultTime time.Time       `json:"result_time"`
	Pool       decimal.Decimal `json:"pool"`
}

// BuyTicketRequest is the JSON body for POST /api/v1/projects/{projectID}/tickets.
type BuyTicketRequest struct {
	OptionID int             `json:"option_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// ResolveRequest is the JSON body for POST /api/v1/projects/{projectID}/resolve.
type ResolveRequest struct {
	WinningOptionID int `json:"winning_option_id"`
}

// ListRequest is the JSON body for POST /api/v1/tickets/{tokenID}/listing.
type ListRequest struct {
	Price decimal.Decimal `json:"price"`
}

// FaucetRequest is the JSON body for POST /api/v1/faucet.
type FaucetRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// BookResponse is the cohort view of a project's valid listings. Best is
// set when the request names an option.
type BookResponse struct {
	ProjectID uint64             `json:"project_id"`
	Depth     int                `json:"depth"`
	Cohorts   []bookview.Cohort  `json:"cohorts"`
	Best      *model.ListingView `json:"best,omitempty"`
}

// AccountResponse is a holder's balance and the tickets it owns.
type AccountResponse struct {
	Address common.Address     `json:"address"`
	Balance decimal.Decimal    `json:"balance"`
	Tickets []model.TicketInfo `json:"tickets"`
}

// SessionResponse carries a bearer token for later requests.
type SessionResponse struct {
	Token     string         `json:"token"`
	Address   common.Address `json:"address"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// --- Projects ---

// ListProjects handles GET /api/v1/projects
func (s *Server) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.engine.ListProjects(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// CreateProject handles POST /api/v1/projects (operator only).
func (s *Server) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.engine.CreateProject(r.Context(), caller(r), req.Name, req.Options, req.ResultTime, req.Pool)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetProject handles GET /api/v1/projects/{projectID}
func (s *Server) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "projectID")
	if !ok {
		return
	}
	p, err := s.engine.GetProject(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// BuyTicket handles POST /api/v1/projects/{projectID}/tickets
func (s *Server) BuyTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "projectID")
	if !ok {
		return
	}
	var req BuyTicketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := s.engine.BuyTicket(r.Context(), caller(r), id, req.OptionID, req.Amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// Resolve handles POST /api/v1/projects/{projectID}/resolve (operator only).
func (s *Server) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "projectID")
	if !ok {
		return
	}
	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.engine.Resolve(r.Context(), caller(r), id, req.WinningOptionID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetBook handles GET /api/v1/projects/{projectID}/book
// Returns valid listings grouped into cohorts, cheapest first.
func (s *Server) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "projectID")
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := s.engine.GetProject(ctx, id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	views, err := s.engine.Listings(ctx, &id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	book := bookview.New(views)
	resp := BookResponse{ProjectID: id, Depth: book.Len(), Cohorts: book.Cohorts(id)}
	if raw := r.URL.Query().Get("option"); raw != "" {
		optionID, err := strconv.Atoi(raw)
		if err != nil || optionID < 0 {
			writeError(w, http.StatusBadRequest, "invalid_option", "option must be a non-negative integer")
			return
		}
		if best, ok := book.Cheapest(id, optionID); ok {
			resp.Best = &best
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListProjectTickets handles GET /api/v1/projects/{projectID}/tickets
func (s *Server) ListProjectTickets(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "projectID")
	if !ok {
		return
	}
	infos, err := s.engine.ProjectTickets(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// --- Tickets ---

// GetTicket handles GET /api/v1/tickets/{tokenID}
func (s *Server) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "tokenID")
	if !ok {
		return
	}
	info, err := s.engine.TicketInfo(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetClaimed handles GET /api/v1/tickets/{tokenID}/claimed
func (s *Server) GetClaimed(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "tokenID")
	if !ok {
		return
	}
	claimed, err := s.engine.ClaimedStatus(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "claimed": claimed})
}

// GetListingPrice handles GET /api/v1/tickets/{tokenID}/listing
// A zero price means the ticket is not validly listed.
func (s *Server) GetListingPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "tokenID")
	if !ok {
		return
	}
	price, err := s.engine.ListingPrice(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "price": price})
}

// List handles POST /api/v1/tickets/{tokenID}/listing
func (s *Server) List(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "tokenID")
	if !ok {
		return
	}
	var req ListRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := s.engine.List(r.Context(), caller(r), id, req.Price)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// Delist handles DELETE /api/v1/tickets/{tokenID}/listing
func (s *Server) Delist(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "tokenID")
	if !ok {
		return
	}
	if err := s.engine.Delist(r.Context(), caller(r), id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BuyListed handles POST /api/v1/tickets/{tokenID}/buy
func (s *Server) BuyListed(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "tokenID")
	if !ok {
		return
	}
	trade, err := s.engine.BuyListed(r.Context(), caller(r), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// Claim handles POST /api/v1/tickets/{tokenID}/claim
func (s *Server) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "tokenID")
	if !ok {
		return
	}
	claim, err := s.engine.Claim(r.Context(), caller(r), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// ListListings handles GET /api/v1/listings
// Returns valid listings, optionally filtered by ?project=<id>.
func (s *Server) ListListings(w http.ResponseWriter, r *http.Request) {
	project, set, err := queryUint(r, "project")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	var filter *uint64
	if set {
		filter = &project
	}
	views, err := s.engine.Listings(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// --- Accounts ---

// GetAccount handles GET /api/v1/accounts/{address}
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := auth.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	ctx := r.Context()
	balance, err := s.engine.BalanceOf(ctx, addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	tickets, err := s.engine.TicketsOf(ctx, addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Address: addr, Balance: balance, Tickets: tickets})
}

// Faucet handles POST /api/v1/faucet (operator only, when enabled).
func (s *Server) Faucet(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.FaucetEnabled {
		writeError(w, http.StatusNotFound, "faucet_disabled", "faucet is disabled")
		return
	}
	var req FaucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := auth.ParseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	balance, err := s.engine.Faucet(r.Context(), caller(r), to, req.Amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": to, "balance": balance})
}

// --- Events & sessions ---

// ListEvents handles GET /api/v1/events?after=<seq>&limit=<n>
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	after, _, err := queryUint(r, "after")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	limit, set, err := queryUint(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if !set || limit == 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	events, err := s.engine.Events(r.Context(), after, int(limit))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateSession handles POST /api/v1/auth/session
// Exchanges an authenticated request for a bearer token.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "sessions_disabled", "sessions are not configured")
		return
	}
	who := caller(r)
	token, exp, err := s.sessions.Issue(who)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Token: token, Address: who, ExpiresAt: exp})
}
