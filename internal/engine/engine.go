// Package engine turns trading intents into broker orders. For each service
// credential it resolves the venue client, ensures a login session where
// the venue needs one, fetches balances and prices, sizes the order, submits
// it, and records the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"alerttrader/internal/broker"
	"alerttrader/internal/domain"
	"alerttrader/internal/sizing"
	"alerttrader/internal/util"
)

// CredentialStore loads service credentials and persists session
// write-backs.
type CredentialStore interface {
	// Get returns one credential of userID.
	Get(ctx context.Context, userID, serviceID string) (domain.ServiceCredential, error)

	// ListByMarket returns every credential userID registered for market.
	ListByMarket(ctx context.Context, userID string, market domain.Market) ([]domain.ServiceCredential, error)

	// WriteSession stores a freshly created session on the credential.
	WriteSession(ctx context.Context, userID, serviceID string, s *domain.Session) error
}

// OrderLog records processed attempts.
type OrderLog interface {
	Record(ctx context.Context, attempt domain.OrderAttempt) error
}

// OrderLogs fans a record out to several logs.
type OrderLogs []OrderLog

// Record writes to every log and joins their errors.
func (ls OrderLogs) Record(ctx context.Context, attempt domain.OrderAttempt) error {
	var errs []error
	for _, l := range ls {
		if err := l.Record(ctx, attempt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options wires optional collaborators into an Engine.
type Options struct {
	Credentials CredentialStore
	OrderLog    OrderLog
	Allocation  *AllocationPolicy
	Logger      *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine orchestrates intent processing. It is safe for concurrent use.
type Engine struct {
	clients *Registry
	creds   CredentialStore
	orders  OrderLog
	alloc   *AllocationPolicy
	log     *slog.Logger
	now     func() time.Time
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(clients *Registry, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		clients: clients,
		creds:   opts.Credentials,
		orders:  opts.OrderLog,
		alloc:   opts.Allocation,
		log:     log,
		now:     now,
	}
}

// ---------------------------------------------------------------------------
// Single service
// ---------------------------------------------------------------------------

// Process runs intent against one credential. The result is always
// populated; err is the causal error when the result is unsuccessful.
func (e *Engine) Process(ctx context.Context, cred domain.ServiceCredential, intent domain.OrderIntent) (domain.OrderResult, error) {
	id := util.NewRequestID()
	started := e.now()
	log := e.log.With(
		"request", id.String(),
		"user", cred.UserID,
		"service", cred.ID,
		"broker", string(cred.BrokerType),
		"action", string(intent.Action),
	)

	order, receipt, err := e.execute(ctx, cred, intent, log)
	result := newResult(cred, order, receipt, err)

	if err != nil {
		log.Warn("intent failed", "kind", string(result.ErrorKind), "error", err)
	} else {
		log.Info("order submitted", "order", order.String(), "broker_order_id", receipt.OrderID)
	}

	e.record(ctx, log, domain.OrderAttempt{
		ID:         id.AttemptID,
		Seq:        id.Seq,
		UserID:     cred.UserID,
		Intent:     intent,
		Result:     result,
		StartedAt:  started,
		FinishedAt: e.now(),
	})
	return result, err
}

// ProcessService loads one credential from the store and processes intent
// against it.
func (e *Engine) ProcessService(ctx context.Context, userID, serviceID string, intent domain.OrderIntent) (domain.OrderResult, error) {
	if e.creds == nil {
		return domain.OrderResult{ServiceID: serviceID}, errors.New("engine has no credential store")
	}
	cred, err := e.creds.Get(ctx, userID, serviceID)
	if err != nil {
		err = fmt.Errorf("load service %s: %w", serviceID, err)
		return newResult(domain.ServiceCredential{ID: serviceID, UserID: userID}, nil, domain.Receipt{}, err), err
	}
	return e.Process(ctx, cred, intent)
}

// CreateSession logs the credential in, persists the session, and returns
// it. Venues without sessions fail with a validation error.
func (e *Engine) CreateSession(ctx context.Context, userID, serviceID string) (*domain.Session, error) {
	if e.creds == nil {
		return nil, errors.New("engine has no credential store")
	}
	cred, err := e.creds.Get(ctx, userID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service %s: %w", serviceID, err)
	}
	client, err := e.clients.Resolve(cred.BrokerType)
	if err != nil {
		return nil, err
	}
	sc, ok := client.(broker.SessionCreator)
	if !ok {
		return nil, domain.Validationf("%s does not use sessions", cred.BrokerType)
	}
	s, err := sc.CreateSession(ctx, cred)
	if err != nil {
		return nil, err
	}
	if err := e.creds.WriteSession(ctx, userID, serviceID, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return s, nil
}

// Account returns the venue's raw account record for a credential, logging
// in first when the venue needs a session.
func (e *Engine) Account(ctx context.Context, userID, serviceID string) (map[string]any, error) {
	if e.creds == nil {
		return nil, errors.New("engine has no credential store")
	}
	cred, err := e.creds.Get(ctx, userID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service %s: %w", serviceID, err)
	}
	client, err := e.clients.Resolve(cred.BrokerType)
	if err != nil {
		return nil, err
	}
	af, ok := client.(broker.AccountFetcher)
	if !ok {
		return nil, domain.Validationf("%s does not expose accounts", cred.BrokerType)
	}
	log := e.log.With("user", userID, "service", serviceID, "broker", string(cred.BrokerType))
	cred, err = e.ensureSession(ctx, client, cred, log)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return af.FetchAccount(ctx, cred)
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

// ProcessAll runs intent against every credential concurrently and returns
// one result per credential in input order. A failure in one pipeline never
// cancels or alters another.
func (e *Engine) ProcessAll(ctx context.Context, creds []domain.ServiceCredential, intent domain.OrderIntent) []domain.OrderResult {
	results := make([]domain.OrderResult, len(creds))
	var wg sync.WaitGroup
	for i, cred := range creds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = e.Process(ctx, cred, intent)
		}()
	}
	wg.Wait()
	return results
}

// ProcessMarket fans intent out to every service userID registered for
// market. Only a failure to list the services is returned as an error.
func (e *Engine) ProcessMarket(ctx context.Context, userID string, market domain.Market, intent domain.OrderIntent) ([]domain.OrderResult, error) {
	if e.creds == nil {
		return nil, errors.New("engine has no credential store")
	}
	creds, err := e.creds.ListByMarket(ctx, userID, market)
	if err != nil {
		return nil, fmt.Errorf("list %s services: %w", market, err)
	}
	e.log.Info("fan-out", "user", userID, "market", string(market), "services", len(creds))
	return e.ProcessAll(ctx, creds, intent), nil
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func (e *Engine) execute(ctx context.Context, cred domain.ServiceCredential, intent domain.OrderIntent, log *slog.Logger) (*domain.Order, domain.Receipt, error) {
	client, err := e.clients.Resolve(cred.BrokerType)
	if err != nil {
		return nil, domain.Receipt{}, err
	}
	if !intent.Action.Valid() {
		return nil, domain.Receipt{}, domain.NewError(domain.KindValidation, "invalid action",
			map[string]any{"action": string(intent.Action)})
	}
	pair, err := client.NormalizePair(intent.Pair)
	if err != nil {
		return nil, domain.Receipt{}, err
	}

	if cc, ok := client.(broker.CredentialChecker); ok {
		if err := cc.CheckCredential(cred); err != nil {
			return nil, domain.Receipt{}, fmt.Errorf("check credential: %w", err)
		}
	}

	cred, err = e.ensureSession(ctx, client, cred, log)
	if err != nil {
		return nil, domain.Receipt{}, fmt.Errorf("ensure session: %w", err)
	}

	state, ticker, err := fetchMarket(ctx, client, cred, pair)
	if err != nil {
		return nil, domain.Receipt{}, fmt.Errorf("fetch market data: %w", err)
	}

	order, err := sizing.Size(sizing.Input{
		Action:            intent.Action,
		Pair:              pair,
		Balances:          state.Balances,
		Ticker:            ticker,
		Positions:         state.Positions,
		AllocationPercent: e.alloc.Percent(cred, intent),
		Rules:             client.Rules(),
	})
	if err != nil {
		return nil, domain.Receipt{}, fmt.Errorf("size order: %w", err)
	}

	receipt, err := client.SubmitOrder(ctx, cred, order)
	if err != nil {
		return &order, domain.Receipt{}, fmt.Errorf("submit order: %w", err)
	}
	return &order, receipt, nil
}

// ensureSession logs in when the venue uses sessions and the credential has
// none. The new session is written back; a failed write-back is logged and
// the intent proceeds with the session in hand.
func (e *Engine) ensureSession(ctx context.Context, client broker.Client, cred domain.ServiceCredential, log *slog.Logger) (domain.ServiceCredential, error) {
	sc, ok := client.(broker.SessionCreator)
	if !ok || cred.Session.Valid() {
		return cred, nil
	}
	s, err := sc.CreateSession(ctx, cred)
	if err != nil {
		return cred, err
	}
	log.Info("session created")
	if e.creds != nil {
		if err := e.creds.WriteSession(ctx, cred.UserID, cred.ID, s); err != nil {
			log.Error("session write-back failed", "error", err)
		}
	}
	return cred.WithSession(s), nil
}

// fetchMarket reads account state and ticker concurrently. Venues that
// report positions supply them through AccountStateFetcher.
func fetchMarket(ctx context.Context, client broker.Client, cred domain.ServiceCredential, pair domain.SymbolPair) (domain.AccountState, domain.Ticker, error) {
	var (
		state  domain.AccountState
		ticker domain.Ticker
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if f, ok := client.(broker.AccountStateFetcher); ok {
			st, err := f.FetchAccountState(gctx, cred)
			state = st
			return err
		}
		bals, err := client.FetchBalances(gctx, cred)
		state.Balances = bals
		return err
	})
	g.Go(func() error {
		tk, err := client.FetchTicker(gctx, cred, pair)
		ticker = tk
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.AccountState{}, domain.Ticker{}, err
	}
	return state, ticker, nil
}

func (e *Engine) record(ctx context.Context, log *slog.Logger, attempt domain.OrderAttempt) {
	if e.orders == nil {
		return
	}
	if err := e.orders.Record(context.WithoutCancel(ctx), attempt); err != nil {
		log.Error("recording attempt failed", "attempt", attempt.ID, "error", err)
	}
}

// newResult normalizes an outcome. Unclassified errors are reported as
// broker errors.
func newResult(cred domain.ServiceCredential, order *domain.Order, receipt domain.Receipt, err error) domain.OrderResult {
	r := domain.OrderResult{
		ServiceID:  cred.ID,
		BrokerType: cred.BrokerType,
		Order:      order,
	}
	if err != nil {
		r.Error = err.Error()
		r.ErrorKind = domain.KindOf(err)
		if r.ErrorKind == "" {
			r.ErrorKind = domain.KindBroker
		}
		var derr *domain.Error
		if errors.As(err, &derr) {
			r.Details = derr.Details
		}
		return r
	}
	r.Success = true
	r.BrokerOrderID = receipt.OrderID
	r.Payload = receipt.Payload
	return r
}
