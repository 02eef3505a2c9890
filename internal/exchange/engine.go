// Package exchange is the wagering core: project lifecycle, ticket minting,
// the secondary-market order book, and settlement. Every mutation runs
// serialized and either commits all of its effects or none of them.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/registry"
	"github.com/atmx/wager-engine/internal/store"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Publisher receives committed events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Locker serializes mutations across engine instances. Acquire blocks until
// the lock is held or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Config holds the engine's fixed parameters.
type Config struct {
	// Operator is the only address allowed to create and resolve projects.
	Operator common.Address
	// Escrow holds pools and stakes and acts as the approved operator for
	// listed tickets.
	Escrow common.Address
	// AmountScale is the number of decimal places payouts are truncated to.
	AmountScale int32
	// LockKey and LockTTL configure the distributed lock, when one is set.
	LockKey string
	LockTTL time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithPublisher sets where committed events are published.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.pub = p } }

// WithLocker adds a distributed lock around every mutation.
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// Engine executes wagering operations against the store and the ledger and
// registry collaborators.
type Engine struct {
	cfg      Config
	store    store.Store
	ledger   ledger.Ledger
	registry registry.Registry

	clock  Clock
	log    *slog.Logger
	pub    Publisher
	locker Locker

	mu sync.Mutex
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config, st store.Store, l ledger.Ledger, r registry.Registry, opts ...Option) (*Engine, error) {
	zero := common.Address{}
	if cfg.Operator == zero {
		return nil, errors.New("exchange: operator address is required")
	}
	if cfg.Escrow == zero {
		return nil, errors.New("exchange: escrow address is required")
	}
	if cfg.Operator == cfg.Escrow {
		return nil, errors.New("exchange: operator and escrow must differ")
	}
	if cfg.AmountScale <= 0 {
		cfg.AmountScale = 18
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "wager:engine"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}

	e := &Engine{
		cfg:      cfg,
		store:    st,
		ledger:   l,
		registry: r,
		clock:    systemClock{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Operator returns the configured operator address.
func (e *Engine) Operator() common.Address { return e.cfg.Operator }

// Escrow returns the configured escrow address.
func (e *Engine) Escrow() common.Address { return e.cfg.Escrow }

// exec runs fn serialized against every other mutation, records metrics and
// publishes the resulting event once the lock is released.
func (e *Engine) exec(ctx context.Context, op string, fn func(ctx context.Context) (*model.Event, error)) error {
	start := time.Now()

	ev, err := e.serialized(ctx, fn)

	result := "ok"
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = "internal"
		}
	}
	metrics.OperationsTotal.WithLabelValues(op, result).Inc()
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		return err
	}
	e.publish(ctx, ev)
	return nil
}

func (e *Engine) serialized(ctx context.Context, fn func(ctx context.Context) (*model.Event, error)) (*model.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.locker != nil {
		unlock, err := e.locker.Acquire(ctx, e.cfg.LockKey, e.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("exchange: acquire lock: %w", err)
		}
		defer unlock()
	}
	return fn(store.WithPrimary(ctx))
}

func (e *Engine) publish(ctx context.Context, ev *model.Event) {
	if e.pub == nil || ev == nil {
		return
	}
	if err := e.pub.Publish(ctx, *ev); err != nil {
		e.log.Warn("event publish failed", "seq", ev.Seq, "type", ev.Type, "err", err)
	}
}

func (e *Engine) newEvent(typ model.EventType, actor common.Address, at time.Time) *model.Event {
	return &model.Event{
		ID:    uuid.New().String(),
		Type:  typ,
		Actor: actor,
		At:    at,
	}
}

func (e *Engine) requireOperator(caller common.Address) error {
	if caller != e.cfg.Operator {
		return failf(ErrNotOperator, "%s", caller.Hex())
	}
	return nil
}

// SyncMetrics sets gauges that are derived from stored state. Call it once
// at startup, before serving.
func (e *Engine) SyncMetrics(ctx context.Context) error {
	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	open := 0
	for _, p := range projects {
		if p.IsActive {
			open++
		}
	}
	metrics.OpenProjects.Set(float64(open))
	return nil
}

// --- Reads ---

// GetProject returns a project by id.
func (e *Engine) GetProject(ctx context.Context, id uint64) (*model.Project, error) {
	p, err := e.store.GetProject(ctx, id)
	if err != nil {
		return nil, e.mapStoreErr(err, ErrProjectNotFound, "project %d", id)
	}
	return p, nil
}

// ListProjects returns every project, newest first.
func (e *Engine) ListProjects(ctx context.Context) ([]model.Project, error) {
	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return projects, nil
}

// TicketsOf returns the tickets currently owned by owner, in token order.
func (e *Engine) TicketsOf(ctx context.Context, owner common.Address) ([]model.TicketInfo, error) {
	ids, err := e.registry.TokensOf(ctx, owner)
	if err != nil {
		return nil, err
	}
	infos := make([]model.TicketInfo, 0, len(ids))
	for _, id := range ids {
		info, err := e.TicketInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// ProjectTickets returns every ticket minted on a project with its current
// owner and listing price, in token order.
func (e *Engine) ProjectTickets(ctx context.Context, projectID uint64) ([]model.TicketInfo, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	tickets, err := e.store.ListTickets(ctx, projectID)
	if err != nil {
		return nil, err
	}
	infos := make([]model.TicketInfo, 0, len(tickets))
	for _, t := range tickets {
		info, err := e.TicketInfo(ctx, t.TokenID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// BalanceOf returns holder's ledger balance.
func (e *Engine) BalanceOf(ctx context.Context, holder common.Address) (decimal.Decimal, error) {
	return e.ledger.BalanceOf(ctx, holder)
}

// Events returns up to limit journal events with Seq > after.
func (e *Engine) Events(ctx context.Context, after uint64, limit int) ([]model.Event, error) {
	return e.store.Events(ctx, after, limit)
}

// mapStoreErr turns store.ErrNotFound into the given engine sentinel.
func (e *Engine) mapStoreErr(err error, notFound *Error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return failf(notFound, format, args...)
	}
	return err
}

// mapLedgerErr turns a ledger shortfall into the engine kind.
func mapLedgerErr(err error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %v", ErrNoFunds, err)
	}
	return err
}
