package catalog

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/shopmind/pkg/models"
)

const (
	metaSalesLast30Days    = "_sales_last_30_days"
	metaLoyaltyPoints      = "loyalty_points"
	metaLoyaltyReason      = "loyalty_points_last_reason"
	metaLastOrderDate      = "last_order_date"
	metaFavoriteCategories = "favorite_categories"
	wooTimeLayout          = "2006-01-02T15:04:05"
)

// flexNumber accepts both JSON numbers and numeric strings, which the
// store API mixes freely ("price": "19.99", "total_sales": 12).
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexNumber(f)
	return nil
}

type wooMeta struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type wooMetaList []wooMeta

func (m wooMetaList) number(key string) float64 {
	for _, e := range m {
		if e.Key == key {
			var n flexNumber
			_ = n.UnmarshalJSON(e.Value)
			return float64(n)
		}
	}
	return 0
}

func (m wooMetaList) str(key string) string {
	for _, e := range m {
		if e.Key == key {
			var s string
			if json.Unmarshal(e.Value, &s) == nil {
				return s
			}
			return strings.Trim(string(e.Value), `"`)
		}
	}
	return ""
}

type wooCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type wooProduct struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	SKU           string        `json:"sku"`
	Status        string        `json:"status"`
	Price         flexNumber    `json:"price"`
	RegularPrice  flexNumber    `json:"regular_price"`
	SalePrice     flexNumber    `json:"sale_price"`
	StockQuantity *int          `json:"stock_quantity"`
	StockStatus   string        `json:"stock_status"`
	TotalSales    flexNumber    `json:"total_sales"`
	AverageRating flexNumber    `json:"average_rating"`
	RatingCount   int           `json:"rating_count"`
	Categories    []wooCategory `json:"categories"`
	DateCreated   string        `json:"date_created_gmt"`
	MetaData      wooMetaList   `json:"meta_data"`
}

func (p wooProduct) toModel() *models.Product {
	out := &models.Product{
		ID:              p.ID,
		Name:            p.Name,
		SKU:             p.SKU,
		Status:          p.Status,
		Price:           float64(p.Price),
		RegularPrice:    float64(p.RegularPrice),
		SalePrice:       float64(p.SalePrice),
		StockStatus:     p.StockStatus,
		TotalSales:      int(p.TotalSales),
		SalesLast30Days: int(p.MetaData.number(metaSalesLast30Days)),
		AverageRating:   float64(p.AverageRating),
		RatingCount:     p.RatingCount,
		Categories:      make([]string, 0, len(p.Categories)),
		CreatedAt:       parseTime(p.DateCreated),
	}
	if p.StockQuantity != nil {
		out.StockQuantity = *p.StockQuantity
	}
	for _, c := range p.Categories {
		out.Categories = append(out.Categories, c.Name)
	}
	return out
}

type wooCustomer struct {
	ID          int64       `json:"id"`
	Email       string      `json:"email"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	OrdersCount flexNumber  `json:"orders_count"`
	TotalSpent  flexNumber  `json:"total_spent"`
	DateCreated string      `json:"date_created_gmt"`
	MetaData    wooMetaList `json:"meta_data"`
	Billing     struct {
		Phone string `json:"phone"`
	} `json:"billing"`
}

func (c wooCustomer) toModel() *models.Customer {
	out := &models.Customer{
		ID:                 c.ID,
		Email:              c.Email,
		FirstName:          c.FirstName,
		LastName:           c.LastName,
		Phone:              c.Billing.Phone,
		OrdersCount:        int(c.OrdersCount),
		TotalSpent:         float64(c.TotalSpent),
		LoyaltyPoints:      int(c.MetaData.number(metaLoyaltyPoints)),
		FavoriteCategories: []string{},
		CreatedAt:          parseTime(c.DateCreated),
	}
	if s := c.MetaData.str(metaLastOrderDate); s != "" {
		if t := parseTime(s); !t.IsZero() {
			out.LastOrderAt = &t
		}
	}
	if s := c.MetaData.str(metaFavoriteCategories); s != "" {
		for _, cat := range strings.Split(s, ",") {
			if cat = strings.TrimSpace(cat); cat != "" {
				out.FavoriteCategories = append(out.FavoriteCategories, cat)
			}
		}
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{wooTimeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
