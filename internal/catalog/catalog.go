// Package catalog talks to the store's REST API: it reads the products and
// customers the analyzers reason about and applies the mutations actions make.
package catalog

import (
	"context"
	"time"

	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// Source reads catalog entities.
type Source interface {
	// ListProductIDs returns up to limit product IDs in ascending order.
	ListProductIDs(ctx context.Context, limit int) ([]int64, error)
	ListCustomerIDs(ctx context.Context, limit int) ([]int64, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	Ready(ctx context.Context) error
}

// Mutator applies store-side changes requested by actions.
type Mutator interface {
	CreateCoupon(ctx context.Context, req CouponRequest) (*Coupon, error)
	UpdateProduct(ctx context.Context, id int64, upd ProductUpdate) (*models.Product, error)
	CreateBundle(ctx context.Context, req BundleRequest) (int64, error)
	// AwardLoyaltyPoints adds points to the customer and returns the new balance.
	AwardLoyaltyPoints(ctx context.Context, customerID int64, points int, reason string) (int, error)
}

type CouponRequest struct {
	Code            string
	DiscountPercent float64
	ProductIDs      []int64
	CustomerEmails  []string
	UsageLimit      int
	ExpiresAt       *time.Time
	Description     string
}

type Coupon struct {
	ID     int64   `json:"id"`
	Code   string  `json:"code"`
	Amount float64 `json:"amount"`
}

// ProductUpdate carries the fields to change. Nil fields are left untouched.
type ProductUpdate struct {
	RegularPrice     *float64
	SalePrice        *float64
	StockQuantity    *int
	Status           *string
	ShortDescription *string
}

type BundleRequest struct {
	Name       string
	ProductIDs []int64
	Price      float64
}
