package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/metrics"
	"go.uber.org/zap"
)

// Store implements Service over a Persister.
type Store struct {
	persister Persister
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// writeMu serializes mutations together with their notifications so
	// listeners observe changes in the order they were persisted.
	writeMu sync.Mutex

	mu        sync.RWMutex
	lines     []domain.CartLine
	hydrated  bool
	listeners map[int]Listener
	nextID    int
}

var _ Service = (*Store)(nil)

func NewStore(persister Persister, log *zap.Logger, m *metrics.Metrics) *Store {
	if m == nil {
		m = metrics.Nop()
	}
	return &Store{
		persister: persister,
		log:       log,
		metrics:   m,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// Hydrate loads the persisted cart. Until it succeeds every mutation fails
// with ErrNotHydrated and snapshots report Hydrated=false.
func (s *Store) Hydrate(ctx context.Context) error {
	lines, err := s.persister.LoadCart(ctx)
	if err != nil {
		return fmt.Errorf("failed to hydrate cart: %w", err)
	}
	clean := normalize(lines)
	if len(clean) != len(lines) {
		s.log.Warn("dropped invalid persisted cart lines",
			zap.Int("loaded", len(lines)), zap.Int("kept", len(clean)))
	}

	s.mu.Lock()
	s.lines = clean
	s.hydrated = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	lines := make([]domain.CartLine, len(s.lines))
	copy(lines, s.lines)
	return Snapshot{Lines: lines, Hydrated: s.hydrated}
}

func (s *Store) OnChange(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// AddLine merges quantity into the line identified by product and variant.
// The result is clamped to the product's known stock; a result of zero or
// less deletes the line.
func (s *Store) AddLine(ctx context.Context, product domain.Product, quantity int, variant domain.VariantIdentity) (AddResult, error) {
	return s.upsert(ctx, MutationAdd, product, quantity, variant)
}

// SetQuantity sets the line to quantity, clamped to stock. Zero or less
// removes the line.
func (s *Store) SetQuantity(ctx context.Context, product domain.Product, quantity int, variant domain.VariantIdentity) (AddResult, error) {
	return s.upsert(ctx, MutationSet, product, quantity, variant)
}

func (s *Store) upsert(ctx context.Context, kind MutationKind, product domain.Product, quantity int, variant domain.VariantIdentity) (AddResult, error) {
	if product.ID == "" {
		return AddResult{}, ErrInvalidProduct
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if !s.hydrated {
		s.mu.RUnlock()
		return AddResult{}, ErrNotHydrated
	}
	current := s.lines
	s.mu.RUnlock()

	idx := indexOf(current, product.ID, variant)
	old := 0
	if idx >= 0 {
		old = current[idx].Quantity
	}

	stock := product.StockFor(variant)
	target := quantity
	if kind == MutationAdd {
		target = old + quantity
	}

	res := AddResult{Requested: quantity, Stock: stock}
	if target > stock {
		target = stock
		res.Clamped = true
	}
	if target < 0 {
		target = 0
	}
	res.Quantity = target
	res.Added = target - old

	if target == old && (idx >= 0 || target == 0) {
		// nothing to persist, but a clamp is still reported
		if res.Clamped {
			s.metrics.StockClamped.Inc()
		}
		return res, nil
	}

	next := make([]domain.CartLine, 0, len(current)+1)
	var resulting *domain.CartLine
	for i, l := range current {
		if i != idx {
			next = append(next, l)
			continue
		}
		if target > 0 {
			// the price snapshot taken when the line was created is kept
			l.Product = product
			l.Quantity = target
			next = append(next, l)
			resulting = &next[len(next)-1]
		}
	}
	if idx < 0 && target > 0 {
		next = append(next, domain.CartLine{
			Product:   product,
			Variant:   variant,
			Quantity:  target,
			UnitPrice: product.Price,
			AddedAt:   s.now(),
		})
		resulting = &next[len(next)-1]
	}

	mut := Mutation{Kind: kind, ProductID: product.ID, Variant: variant, Delta: res.Added}
	if resulting != nil {
		line := *resulting
		mut.Line = &line
	}
	if err := s.commit(ctx, next, mut); err != nil {
		return AddResult{}, err
	}
	if res.Clamped {
		s.metrics.StockClamped.Inc()
		s.log.Info("add to cart clamped to stock",
			zap.String("product_id", product.ID),
			zap.Stringer("variant", variant),
			zap.Int("requested", quantity),
			zap.Int("stock", stock))
	}
	return res, nil
}

// RemoveLine deletes the line with exactly this identity.
func (s *Store) RemoveLine(ctx context.Context, productID string, variant domain.VariantIdentity) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if !s.hydrated {
		s.mu.RUnlock()
		return ErrNotHydrated
	}
	current := s.lines
	s.mu.RUnlock()

	idx := indexOf(current, productID, variant)
	if idx < 0 {
		return ErrLineNotFound
	}
	next := make([]domain.CartLine, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)

	return s.commit(ctx, next, Mutation{
		Kind:      MutationRemove,
		ProductID: productID,
		Variant:   variant,
		Delta:     -current[idx].Quantity,
	})
}

// Clear empties the cart after a confirmed order.
func (s *Store) Clear(ctx context.Context) error {
	return s.replaceAll(ctx, nil, MutationClear)
}

// Reset empties the cart on a session change.
func (s *Store) Reset(ctx context.Context) error {
	return s.replaceAll(ctx, nil, MutationReset)
}

// Replace installs lines from the server as the new local state.
func (s *Store) Replace(ctx context.Context, lines []domain.CartLine) error {
	return s.replaceAll(ctx, normalize(lines), MutationReplace)
}

func (s *Store) replaceAll(ctx context.Context, lines []domain.CartLine, kind MutationKind) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	hydrated := s.hydrated
	s.mu.RUnlock()
	if !hydrated {
		return ErrNotHydrated
	}
	return s.commit(ctx, lines, Mutation{Kind: kind})
}

// commit persists next, installs it and notifies listeners. Callers hold
// writeMu. On a persistence error memory is left untouched.
func (s *Store) commit(ctx context.Context, next []domain.CartLine, mut Mutation) error {
	if next == nil {
		next = []domain.CartLine{}
	}
	if err := s.persister.SaveCart(ctx, next); err != nil {
		return fmt.Errorf("failed to persist cart: %w", err)
	}

	s.mu.Lock()
	s.lines = next
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	change := Change{Mutation: mut, Snapshot: snap}
	for _, l := range listeners {
		l(change)
	}
	return nil
}

func indexOf(lines []domain.CartLine, productID string, v domain.VariantIdentity) int {
	for i, l := range lines {
		if l.Matches(productID, v) {
			return i
		}
	}
	return -1
}

// normalize drops non-positive lines and folds duplicate identities into the
// first occurrence.
func normalize(lines []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || l.Product.ID == "" {
			continue
		}
		if i := indexOf(out, l.Product.ID, l.Variant); i >= 0 {
			out[i].Quantity += l.Quantity
			continue
		}
		out = append(out, l)
	}
	return out
}
