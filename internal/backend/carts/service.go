package carts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownOp       = errors.New("unknown cart operation")
	ErrInvalidMutation = errors.New("invalid cart mutation")
)

const maxSaveAttempts = 3

type Catalog interface {
	Product(ctx context.Context, id string) (domain.Product, error)
}

type Service struct {
	repo    Repository
	cache   Cache
	catalog Catalog
	log     *zap.Logger
	sfg     singleflight.Group
	now     func() time.Time
}

func NewService(repo Repository, cache Cache, catalog Catalog, log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		cache:   cache,
		catalog: catalog,
		log:     log,
		now:     time.Now,
	}
}

// Get returns the user's cart priced from the catalog. A user without a
// stored cart gets an empty cart at version 0.
func (s *Service) Get(ctx context.Context, userID string) (domain.ServerCart, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return domain.ServerCart{}, err
	}
	return s.view(ctx, cart), nil
}

func (s *Service) load(ctx context.Context, userID string) (*Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.Warn("cart cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		cart, err = s.repo.Get(ctx, userID)
		if errors.Is(err, ErrCartNotFound) {
			return &Cart{UserID: userID}, nil
		}
		if err != nil {
			return nil, err
		}

		go func(c *Cart) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := s.cache.Set(ctx, userID, c); err != nil {
				s.log.Warn("cart cache set failed", zap.String("user_id", userID), zap.Error(err))
			}
		}(cart.clone())

		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a flight must not share the slices
	return v.(*Cart).clone(), nil
}

// Merge folds a guest cart into the user's cart: quantities of matching
// lines are summed, then clamped to stock.
func (s *Service) Merge(ctx context.Context, userID string, m domain.CartMutation) (domain.ServerCart, error) {
	if m.Op != domain.CartOpMerge {
		return domain.ServerCart{}, fmt.Errorf("%w: expected merge, got %q", ErrInvalidMutation, m.Op)
	}
	return s.mutate(ctx, userID, m)
}

func (s *Service) Apply(ctx context.Context, userID string, m domain.CartMutation) (domain.ServerCart, error) {
	switch m.Op {
	case domain.CartOpAdd, domain.CartOpSet, domain.CartOpRemove:
		if m.Line == nil || m.Line.ProductID == "" {
			return domain.ServerCart{}, fmt.Errorf("%w: %s needs a line", ErrInvalidMutation, m.Op)
		}
	case domain.CartOpClear, domain.CartOpMerge:
	default:
		return domain.ServerCart{}, fmt.Errorf("%w: %q", ErrUnknownOp, m.Op)
	}
	return s.mutate(ctx, userID, m)
}

// Clear empties the cart. The version still moves forward so that clients
// holding the old cart accept the empty one. mutationID makes redelivered
// clears no-ops and may be empty.
func (s *Service) Clear(ctx context.Context, userID, mutationID string) error {
	_, err := s.mutate(ctx, userID, domain.CartMutation{ID: mutationID, Op: domain.CartOpClear})
	return err
}

func (s *Service) mutate(ctx context.Context, userID string, m domain.CartMutation) (domain.ServerCart, error) {
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		current, err := s.repo.Get(ctx, userID)
		if errors.Is(err, ErrCartNotFound) {
			current = &Cart{UserID: userID}
		} else if err != nil {
			return domain.ServerCart{}, err
		}

		if current.hasApplied(m.ID) {
			s.log.Debug("cart mutation already applied",
				zap.String("user_id", userID), zap.String("mutation_id", m.ID))
			return s.view(ctx, current), nil
		}

		next := current.clone()
		s.apply(ctx, next, m)
		next.remember(m.ID)
		next.Version = current.Version + 1

		err = s.repo.Save(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			s.log.Debug("cart version conflict, retrying",
				zap.String("user_id", userID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return domain.ServerCart{}, err
		}

		s.invalidateCache(userID)
		return s.view(ctx, next), nil
	}
	return domain.ServerCart{}, ErrVersionConflict
}

func (s *Service) apply(ctx context.Context, c *Cart, m domain.CartMutation) {
	switch m.Op {
	case domain.CartOpClear:
		c.Items = nil
	case domain.CartOpMerge:
		for _, l := range m.Lines {
			s.adjust(ctx, c, l, true)
		}
	case domain.CartOpAdd:
		s.adjust(ctx, c, *m.Line, true)
	case domain.CartOpSet:
		s.adjust(ctx, c, *m.Line, false)
	case domain.CartOpRemove:
		if i := c.find(m.Line.ProductID, m.Line.Variant); i >= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		}
	}
}

// adjust applies one line. delta adds to the existing quantity, otherwise the
// quantity replaces it. The result is clamped to stock; zero or less removes
// the line.
func (s *Service) adjust(ctx context.Context, c *Cart, l domain.LineQuantity, delta bool) {
	i := c.find(l.ProductID, l.Variant)
	qty := l.Quantity
	if delta && i >= 0 {
		qty += c.Items[i].Quantity
	}

	if qty > 0 {
		p, err := s.catalog.Product(ctx, l.ProductID)
		if err != nil {
			s.log.Warn("dropping cart line for unknown product",
				zap.String("user_id", c.UserID), zap.String("product_id", l.ProductID), zap.Error(err))
			qty = 0
		} else if stock := p.StockFor(l.Variant); qty > stock {
			qty = stock
		}
	}

	switch {
	case qty <= 0 && i >= 0:
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	case qty <= 0:
	case i >= 0:
		c.Items[i].Quantity = qty
	default:
		c.Items = append(c.Items, Item{
			ProductID: l.ProductID,
			Variant:   toVariant(l.Variant),
			Quantity:  qty,
			AddedAt:   s.now(),
		})
	}
}

// view prices the stored lines from the catalog. Lines whose product has
// left the catalog are omitted.
func (s *Service) view(ctx context.Context, c *Cart) domain.ServerCart {
	out := domain.ServerCart{
		UserID:    c.UserID,
		Version:   c.Version,
		Lines:     make([]domain.CartLine, 0, len(c.Items)),
		UpdatedAt: c.UpdatedAt,
	}
	for _, it := range c.Items {
		p, err := s.catalog.Product(ctx, it.ProductID)
		if err != nil {
			s.log.Warn("cart line references unknown product",
				zap.String("user_id", c.UserID), zap.String("product_id", it.ProductID), zap.Error(err))
			continue
		}
		out.Lines = append(out.Lines, domain.CartLine{
			Product:   p,
			Variant:   it.Identity(),
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
			AddedAt:   it.AddedAt,
		})
	}
	return out
}

func (s *Service) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cart cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
