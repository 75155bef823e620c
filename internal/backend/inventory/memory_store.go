package inventory

import (
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultReservationTTL = 15 * time.Minute
	DefaultSweepInterval  = 30 * time.Second
)

type MemoryStore struct {
	mu           sync.RWMutex
	stocks       map[string]*StockInfo
	reservations map[string]*Reservation
	ttl          time.Duration
	now          func() time.Time
	log          *zap.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewMemoryStore starts the expiry sweep; Close stops it.
func NewMemoryStore(ttl, sweep time.Duration, log *zap.Logger) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	s := &MemoryStore{
		stocks:       make(map[string]*StockInfo),
		reservations: make(map[string]*Reservation),
		ttl:          ttl,
		now:          time.Now,
		log:          log,
		stopCleanup:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop(sweep)
	return s
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.expireReservations(); n > 0 {
				s.log.Info("expired stock reservations", zap.Int("count", n))
			}
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) expireReservations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := 0
	for _, r := range s.reservations {
		if r.Status == StatusReserved && r.IsExpired(now) {
			r.Status = StatusExpired
			s.unreserve(r)
			expired++
		}
	}
	return expired
}

func (s *MemoryStore) unreserve(r *Reservation) {
	for i, item := range r.Items {
		if st, ok := s.stocks[r.skus[i]]; ok {
			st.Reserved -= item.Quantity
		}
	}
}

// resolve falls back to the product-level SKU for variants that are not
// stocked separately. Caller holds the lock.
func (s *MemoryStore) resolve(productID string, v domain.VariantIdentity) (*StockInfo, bool) {
	if st, ok := s.stocks[SKU(productID, v)]; ok {
		return st, true
	}
	st, ok := s.stocks[SKU(productID, domain.NoVariant())]
	return st, ok
}

// Seed loads stock levels from catalog products, one SKU per tracked variant.
func (s *MemoryStore) Seed(products []domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		s.setStock(SKU(p.ID, domain.NoVariant()), p.Stock)
		for _, vs := range p.Variants {
			s.setStock(SKU(p.ID, vs.Variant), vs.Stock)
		}
	}
}

func (s *MemoryStore) SetStock(productID string, v domain.VariantIdentity, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStock(SKU(productID, v), quantity)
}

func (s *MemoryStore) setStock(sku string, quantity int) {
	if quantity < 0 {
		quantity = 0
	}
	s.stocks[sku] = &StockInfo{SKU: sku, Total: quantity}
}

// Available reports unreserved stock for a product variant.
func (s *MemoryStore) Available(productID string, v domain.VariantIdentity) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.resolve(productID, v)
	if !ok {
		return 0, false
	}
	if a := st.Available(); a > 0 {
		return a, true
	}
	return 0, true
}

// Reserve holds stock for every item or for none of them.
func (s *MemoryStore) Reserve(reference string, items []Item) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// several lines may draw on one shared product-level SKU
	need := make(map[string]int, len(items))
	skus := make([]string, len(items))
	for i, item := range items {
		st, ok := s.resolve(item.ProductID, item.Variant)
		if !ok {
			return nil, ErrSKUNotFound
		}
		skus[i] = st.SKU
		need[st.SKU] += item.Quantity
	}
	for sku, qty := range need {
		if s.stocks[sku].Available() < qty {
			return nil, ErrInsufficientStock
		}
	}

	for sku, qty := range need {
		s.stocks[sku].Reserved += qty
	}

	now := s.now()
	r := &Reservation{
		ID:        uuid.New().String(),
		Reference: reference,
		skus:      skus,
		Items:     append([]Item(nil), items...),
		Status:    StatusReserved,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.reservations[r.ID] = r
	return r, nil
}

// Confirm turns a reservation into a permanent deduction.
func (s *MemoryStore) Confirm(reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	if r.Status != StatusReserved {
		return ErrInvalidStatus
	}
	if r.IsExpired(s.now()) {
		return ErrReservationExpired
	}

	for i, item := range r.Items {
		st := s.stocks[r.skus[i]]
		st.Total -= item.Quantity
		st.Reserved -= item.Quantity
	}
	r.Status = StatusConfirmed
	return nil
}

// Release returns reserved stock to the pool.
func (s *MemoryStore) Release(reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	if r.Status != StatusReserved {
		return ErrInvalidStatus
	}

	s.unreserve(r)
	r.Status = StatusReleased
	return nil
}

func (s *MemoryStore) Stock(productID string, v domain.VariantIdentity) (StockInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.resolve(productID, v)
	if !ok {
		return StockInfo{}, false
	}
	return *st, true
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	s.wg.Wait()
	return nil
}
