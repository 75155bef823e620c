// Package cartsync reconciles the local cart with the server-side cart of a
// logged-in user. Local mutations go through a durable outbox that is
// replayed in order; the server wins once the outbox has been acknowledged.
package cartsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/localstore"
	"github.com/fjod/go_storefront/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidSession  = errors.New("session has no user or token")
	ErrAlreadyLoggedIn = errors.New("another user is logged in")
)

// Remote is the server side of the cart.
type Remote interface {
	Merge(ctx context.Context, m domain.CartMutation) (domain.ServerCart, error)
	Apply(ctx context.Context, m domain.CartMutation) (domain.ServerCart, error)
	Fetch(ctx context.Context) (domain.ServerCart, error)
}

// Outbox is the durable queue of mutations waiting to be pushed.
type Outbox interface {
	Enqueue(ctx context.Context, e localstore.OutboxEntry) error
	Pending(ctx context.Context, userID string, limit int) ([]localstore.OutboxEntry, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	DiscardFor(ctx context.Context, userID string) (int64, error)
	PendingCount(ctx context.Context, userID string) (int, error)
}

type SessionStore interface {
	LoadSession(ctx context.Context) (domain.Session, error)
	SaveSession(ctx context.Context, s domain.Session) error
	ClearSession(ctx context.Context) error
}

type Config struct {
	DrainInterval time.Duration
	BatchSize     int
}

type Agent struct {
	cart     cart.Service
	outbox   Outbox
	sessions SessionStore
	remote   Remote
	log      *zap.Logger
	metrics  *metrics.Metrics
	cfg      Config

	wake    chan struct{}
	drainMu sync.Mutex

	mu          sync.RWMutex
	session     domain.Session
	unsubscribe func()
}

func NewAgent(cfg Config, c cart.Service, outbox Outbox, sessions SessionStore, remote Remote, log *zap.Logger, m *metrics.Metrics) *Agent {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Agent{
		cart:     c,
		outbox:   outbox,
		sessions: sessions,
		remote:   remote,
		log:      log,
		metrics:  m,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
	}
}

// Start restores the persisted session and begins recording cart mutations.
func (a *Agent) Start(ctx context.Context) error {
	s, err := a.sessions.LoadSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	a.mu.Lock()
	a.session = s
	a.unsubscribe = a.cart.OnChange(a.record)
	a.mu.Unlock()
	return nil
}

func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *Agent) Session() domain.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// Token is the bearer token of the current session, empty when anonymous.
func (a *Agent) Token() string {
	return a.Session().Token
}

// Run drains the outbox on every tick and whenever a mutation is recorded,
// until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-a.wake:
		case <-ctx.Done():
			return
		}
		if _, err := a.Drain(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("cart sync drain stopped", zap.Error(err))
		}
	}
}

func (a *Agent) notify() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Login installs an authenticated session, pushes the cart built while
// anonymous to the server and, once every pending mutation is acknowledged, replaces local
// state with the server cart. Sync failures are logged; the local cart is
// left as it was and login still succeeds.
func (a *Agent) Login(ctx context.Context, s domain.Session) error {
	if !s.Authenticated() {
		return ErrInvalidSession
	}
	current := a.Session()
	if current.Authenticated() && current.UserID != s.UserID {
		return ErrAlreadyLoggedIn
	}
	if current.UserID == s.UserID {
		s.CartVersion = current.CartVersion
	}
	if err := a.sessions.SaveSession(ctx, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	log := a.log.With(zap.String("user_id", s.UserID))
	// A repeat login of the same user already has its lines on the server.
	if lines := a.cart.Snapshot().Lines; len(lines) > 0 && !current.Authenticated() {
		m := domain.CartMutation{Op: domain.CartOpMerge, Lines: quantities(lines)}
		if err := a.enqueue(ctx, s.UserID, m); err != nil {
			log.Warn("failed to queue cart merge", zap.Error(err))
			return nil
		}
	}

	done, err := a.Drain(ctx)
	if err != nil {
		log.Warn("cart push failed, keeping local cart", zap.Error(err))
		return nil
	}
	if !done {
		return nil
	}
	if err := a.Pull(ctx); err != nil {
		log.Warn("cart pull failed, keeping local cart", zap.Error(err))
	}
	return nil
}

// Logout pushes what it can, drops the rest, forgets the session and empties
// the local cart.
func (a *Agent) Logout(ctx context.Context) error {
	s := a.Session()
	if s.Authenticated() {
		if _, err := a.Drain(ctx); err != nil {
			a.log.Warn("final cart push failed", zap.String("user_id", s.UserID), zap.Error(err))
		}
		a.drainMu.Lock()
		n, err := a.outbox.DiscardFor(ctx, s.UserID)
		a.drainMu.Unlock()
		if err != nil {
			a.log.Warn("failed to discard pending cart mutations", zap.String("user_id", s.UserID), zap.Error(err))
		} else if n > 0 {
			a.log.Info("discarded unsynced cart mutations", zap.String("user_id", s.UserID), zap.Int64("count", n))
		}
		a.metrics.OutboxPending.Set(0)
	}

	if err := a.sessions.ClearSession(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	a.mu.Lock()
	a.session = domain.Session{}
	a.mu.Unlock()

	if err := a.cart.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset cart: %w", err)
	}
	return nil
}

// Pull fetches the server cart and installs it locally unless it is older
// than what was last applied or local mutations are still waiting.
func (a *Agent) Pull(ctx context.Context) error {
	s := a.Session()
	if !s.Authenticated() {
		return nil
	}
	sc, err := a.remote.Fetch(ctx)
	if err != nil {
		a.metrics.SyncFailures.WithLabelValues("pull").Inc()
		return fmt.Errorf("failed to fetch server cart: %w", err)
	}

	a.drainMu.Lock()
	defer a.drainMu.Unlock()

	if sc.Version < s.CartVersion {
		a.log.Info("ignoring stale server cart",
			zap.String("user_id", s.UserID),
			zap.Int64("version", sc.Version),
			zap.Int64("applied_version", s.CartVersion))
		return nil
	}
	pending, err := a.outbox.PendingCount(ctx, s.UserID)
	if err != nil {
		return err
	}
	if pending > 0 {
		a.log.Debug("skipping pull while mutations are pending", zap.Int("pending", pending))
		return nil
	}
	if a.Session().UserID != s.UserID {
		return nil
	}

	if err := a.cart.Replace(ctx, sc.Lines); err != nil {
		return err
	}
	s.CartVersion = sc.Version
	if err := a.sessions.SaveSession(ctx, s); err != nil {
		return fmt.Errorf("failed to save cart version: %w", err)
	}
	a.mu.Lock()
	if a.session.UserID == s.UserID {
		a.session.CartVersion = sc.Version
	}
	a.mu.Unlock()
	return nil
}

// Drain replays pending mutations in order. It stops at the first failure so
// later mutations are never applied ahead of earlier ones, and reports
// whether the outbox was emptied.
func (a *Agent) Drain(ctx context.Context) (bool, error) {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()

	s := a.Session()
	if !s.Authenticated() {
		return true, nil
	}
	log := a.log.With(zap.String("user_id", s.UserID))

	for {
		entries, err := a.outbox.Pending(ctx, s.UserID, a.cfg.BatchSize)
		if err != nil {
			return false, err
		}
		if len(entries) == 0 {
			a.metrics.OutboxPending.Set(0)
			return true, nil
		}
		for _, e := range entries {
			if err := a.push(ctx, e); err != nil {
				a.metrics.SyncFailures.WithLabelValues("push").Inc()
				if markErr := a.outbox.MarkFailed(ctx, e.ID, err); markErr != nil {
					log.Error("failed to record push failure", zap.String("mutation_id", e.ID), zap.Error(markErr))
				}
				a.updatePending(ctx, s.UserID)
				return false, fmt.Errorf("push %s %s: %w", e.Kind, e.ID, err)
			}
			if err := a.outbox.MarkDone(ctx, e.ID); err != nil {
				return false, err
			}
		}
	}
}

func (a *Agent) push(ctx context.Context, e localstore.OutboxEntry) error {
	var m domain.CartMutation
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		// an undecodable entry would block the queue forever
		a.log.Error("dropping corrupt outbox entry", zap.String("mutation_id", e.ID), zap.Error(err))
		return nil
	}
	if m.Op == domain.CartOpMerge {
		_, err := a.remote.Merge(ctx, m)
		return err
	}
	_, err := a.remote.Apply(ctx, m)
	return err
}

func (a *Agent) updatePending(ctx context.Context, userID string) {
	n, err := a.outbox.PendingCount(ctx, userID)
	if err != nil {
		return
	}
	a.metrics.OutboxPending.Set(float64(n))
}

// record is the cart listener. Only shopper mutations of a logged-in user are
// queued; server replacements and resets are never echoed back.
func (a *Agent) record(c cart.Change) {
	if !c.Mutation.Kind.UserOriginated() {
		return
	}
	s := a.Session()
	if !s.Authenticated() {
		return
	}
	m, ok := toMutation(c.Mutation)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.enqueue(ctx, s.UserID, m); err != nil {
		a.metrics.SyncFailures.WithLabelValues("enqueue").Inc()
		a.log.Error("failed to queue cart mutation",
			zap.String("user_id", s.UserID), zap.String("op", string(m.Op)), zap.Error(err))
		return
	}
	a.notify()
}

func (a *Agent) enqueue(ctx context.Context, userID string, m domain.CartMutation) error {
	m.ID = uuid.NewString()
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mutation: %w", err)
	}
	if err := a.outbox.Enqueue(ctx, localstore.OutboxEntry{
		ID:      m.ID,
		UserID:  userID,
		Kind:    string(m.Op),
		Payload: payload,
	}); err != nil {
		return err
	}
	a.metrics.OutboxPending.Inc()
	return nil
}

func toMutation(mut cart.Mutation) (domain.CartMutation, bool) {
	line := &domain.LineQuantity{ProductID: mut.ProductID, Variant: mut.Variant}
	switch mut.Kind {
	case cart.MutationAdd:
		if mut.Delta == 0 {
			return domain.CartMutation{}, false
		}
		line.Quantity = mut.Delta
		return domain.CartMutation{Op: domain.CartOpAdd, Line: line}, true
	case cart.MutationSet:
		if mut.Line != nil {
			line.Quantity = mut.Line.Quantity
		}
		return domain.CartMutation{Op: domain.CartOpSet, Line: line}, true
	case cart.MutationRemove:
		return domain.CartMutation{Op: domain.CartOpRemove, Line: line}, true
	case cart.MutationClear:
		return domain.CartMutation{Op: domain.CartOpClear}, true
	default:
		return domain.CartMutation{}, false
	}
}

func quantities(lines []domain.CartLine) []domain.LineQuantity {
	out := make([]domain.LineQuantity, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.LineQuantity{ProductID: l.Product.ID, Variant: l.Variant, Quantity: l.Quantity})
	}
	return out
}
