// Package query builds list query strings for the store catalog REST API.
package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Builder constructs catalog list queries.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type Builder struct{}

const (
	DefaultPerPage = 50
	MaxPerPage     = 100
)

// ProductParams defines inputs for product list queries.
type ProductParams struct {
	Page        int
	PerPage     int
	Status      string
	StockStatus string
	Category    int64
	Search      string
	After       time.Time
	OrderBy     string
	Order       string
}

// CustomerParams defines inputs for customer list queries.
type CustomerParams struct {
	Page    int
	PerPage int
	Role    string
	Search  string
	OrderBy string
	Order   string
}

// Products returns the encoded query for a product listing. Only published
// products are listed unless Status says otherwise.
func (b Builder) Products(p ProductParams) string {
	v := b.paging(p.Page, p.PerPage)
	v = append(v, pair{"status", b.orDefault(p.Status, "publish")})
	if p.StockStatus != "" {
		v = append(v, pair{"stock_status", p.StockStatus})
	}
	if p.Category > 0 {
		v = append(v, pair{"category", strconv.FormatInt(p.Category, 10)})
	}
	if s := b.sanitize(p.Search); s != "" {
		v = append(v, pair{"search", s})
	}
	if !p.After.IsZero() {
		v = append(v, pair{"after", p.After.UTC().Format("2006-01-02T15:04:05")})
	}
	v = append(v, b.ordering(p.OrderBy, p.Order, "id")...)
	return encode(v)
}

// Customers returns the encoded query for a customer listing.
func (b Builder) Customers(p CustomerParams) string {
	v := b.paging(p.Page, p.PerPage)
	v = append(v, pair{"role", b.orDefault(p.Role, "customer")})
	if s := b.sanitize(p.Search); s != "" {
		v = append(v, pair{"search", s})
	}
	v = append(v, b.ordering(p.OrderBy, p.Order, "id")...)
	return encode(v)
}

type pair struct{ key, value string }

func (b Builder) paging(page, perPage int) []pair {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return []pair{
		{"page", strconv.Itoa(page)},
		{"per_page", strconv.Itoa(perPage)},
	}
}

func (b Builder) ordering(orderBy, order, fallback string) []pair {
	order = strings.ToLower(order)
	if order != "asc" && order != "desc" {
		order = "asc"
	}
	return []pair{
		{"orderby", b.orDefault(orderBy, fallback)},
		{"order", order},
	}
}

func (b Builder) orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// sanitize trims the search term and drops control characters.
func (b Builder) sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// encode keeps parameter order stable, unlike url.Values.Encode which sorts.
func encode(pairs []pair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = url.QueryEscape(p.key) + "=" + url.QueryEscape(p.value)
	}
	return strings.Join(parts, "&")
}
