package catalog

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/shopmind/internal/breaker"
	"github.com/kiranshivaraju/shopmind/internal/cache"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// BreakerName is the circuit every catalog read and write goes through.
const BreakerName = "catalog"

// CachedSource reads through the guard and serves the last good copy of an
// entity while the catalog is failing.
type CachedSource struct {
	src   Source
	guard *breaker.Guard
}

func NewCachedSource(src Source, guard *breaker.Guard) *CachedSource {
	return &CachedSource{src: src, guard: guard}
}

func (s *CachedSource) ListProductIDs(ctx context.Context, limit int) ([]int64, error) {
	ids, fromCache, err := breaker.Fetch(ctx, s.guard, BreakerName, "catalog:product_ids", func(ctx context.Context) ([]int64, error) {
		return s.src.ListProductIDs(ctx, limit)
	})
	return capIDs(ids, limit, fromCache), err
}

func (s *CachedSource) ListCustomerIDs(ctx context.Context, limit int) ([]int64, error) {
	ids, fromCache, err := breaker.Fetch(ctx, s.guard, BreakerName, "catalog:customer_ids", func(ctx context.Context) ([]int64, error) {
		return s.src.ListCustomerIDs(ctx, limit)
	})
	return capIDs(ids, limit, fromCache), err
}

func (s *CachedSource) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, fromCache, err := breaker.Fetch(ctx, s.guard, BreakerName, cache.ProductKey(id), func(ctx context.Context) (*models.Product, error) {
		return s.src.GetProduct(ctx, id)
	})
	if fromCache {
		slog.Warn("using cached product", "entity_id", id)
	}
	return p, err
}

func (s *CachedSource) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	c, fromCache, err := breaker.Fetch(ctx, s.guard, BreakerName, cache.CustomerKey(id), func(ctx context.Context) (*models.Customer, error) {
		return s.src.GetCustomer(ctx, id)
	})
	if fromCache {
		slog.Warn("using cached customer", "entity_id", id)
	}
	return c, err
}

func (s *CachedSource) Ready(ctx context.Context) error {
	return s.src.Ready(ctx)
}

// capIDs trims a cached listing that was stored under a larger limit.
func capIDs(ids []int64, limit int, fromCache bool) []int64 {
	if fromCache && limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

// GuardedMutator sends mutations through the guard without any cache
// fallback; a failed write must surface as a failure.
type GuardedMutator struct {
	m     Mutator
	guard *breaker.Guard
}

func NewGuardedMutator(m Mutator, guard *breaker.Guard) *GuardedMutator {
	return &GuardedMutator{m: m, guard: guard}
}

func (g *GuardedMutator) CreateCoupon(ctx context.Context, req CouponRequest) (*Coupon, error) {
	var out *Coupon
	err := g.guard.Do(ctx, BreakerName, func(ctx context.Context) error {
		c, err := g.m.CreateCoupon(ctx, req)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GuardedMutator) UpdateProduct(ctx context.Context, id int64, upd ProductUpdate) (*models.Product, error) {
	var out *models.Product
	err := g.guard.Do(ctx, BreakerName, func(ctx context.Context) error {
		p, err := g.m.UpdateProduct(ctx, id, upd)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GuardedMutator) CreateBundle(ctx context.Context, req BundleRequest) (int64, error) {
	var out int64
	err := g.guard.Do(ctx, BreakerName, func(ctx context.Context) error {
		id, err := g.m.CreateBundle(ctx, req)
		out = id
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

func (g *GuardedMutator) AwardLoyaltyPoints(ctx context.Context, customerID int64, points int, reason string) (int, error) {
	var out int
	err := g.guard.Do(ctx, BreakerName, func(ctx context.Context) error {
		n, err := g.m.AwardLoyaltyPoints(ctx, customerID, points, reason)
		out = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

var (
	_ Source  = (*CachedSource)(nil)
	_ Mutator = (*GuardedMutator)(nil)
)
