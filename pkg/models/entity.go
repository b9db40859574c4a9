package models

import (
	"time"
)

// Product is the slice of a catalog product the analyzers reason about.
type Product struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	SKU             string    `json:"sku"`
	Status          string    `json:"status"`
	Price           float64   `json:"price"`
	RegularPrice    float64   `json:"regular_price"`
	SalePrice       float64   `json:"sale_price"`
	StockQuantity   int       `json:"stock_quantity"`
	StockStatus     string    `json:"stock_status"`
	TotalSales      int       `json:"total_sales"`
	SalesLast30Days int       `json:"sales_last_30_days"`
	AverageRating   float64   `json:"average_rating"`
	RatingCount     int       `json:"rating_count"`
	Categories      []string  `json:"categories"`
	CreatedAt       time.Time `json:"created_at"`
}

// Metrics flattens the product into the named metrics sent to the model.
func (p Product) Metrics() map[string]any {
	return map[string]any{
		"id":                 p.ID,
		"name":               p.Name,
		"sku":                p.SKU,
		"price":              p.Price,
		"regular_price":      p.RegularPrice,
		"sale_price":         p.SalePrice,
		"stock_quantity":     p.StockQuantity,
		"stock_status":       p.StockStatus,
		"total_sales":        p.TotalSales,
		"sales_last_30_days": p.SalesLast30Days,
		"average_rating":     p.AverageRating,
		"rating_count":       p.RatingCount,
		"categories":         p.Categories,
		"days_listed":        daysSince(p.CreatedAt),
	}
}

// Customer is the slice of a store customer the analyzers reason about.
type Customer struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Phone              string     `json:"phone"`
	OrdersCount        int        `json:"orders_count"`
	TotalSpent         float64    `json:"total_spent"`
	LastOrderAt        *time.Time `json:"last_order_at,omitempty"`
	FavoriteCategories []string   `json:"favorite_categories"`
	LoyaltyPoints      int        `json:"loyalty_points"`
	CreatedAt          time.Time  `json:"created_at"`
}

// AverageOrderValue returns total spent per order, or 0 without orders.
func (c Customer) AverageOrderValue() float64 {
	if c.OrdersCount == 0 {
		return 0
	}
	return c.TotalSpent / float64(c.OrdersCount)
}

// Metrics flattens the customer into the named metrics sent to the model.
// Contact details stay out of the prompt.
func (c Customer) Metrics() map[string]any {
	m := map[string]any{
		"id":                  c.ID,
		"orders_count":        c.OrdersCount,
		"total_spent":         c.TotalSpent,
		"average_order_value": c.AverageOrderValue(),
		"favorite_categories": c.FavoriteCategories,
		"loyalty_points":      c.LoyaltyPoints,
		"days_as_customer":    daysSince(c.CreatedAt),
		"has_phone":           c.Phone != "",
	}
	if c.LastOrderAt != nil {
		m["days_since_last_order"] = daysSince(*c.LastOrderAt)
	}
	return m
}

func daysSince(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return int(time.Since(t).Hours() / 24)
}
