package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/kiranshivaraju/shopmind/pkg/query"
)

const pageSize = query.MaxPerPage

// HTTPClient implements Source and Mutator against a WooCommerce-style REST API.
type HTTPClient struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	client         *http.Client
	queries        query.Builder
}

// NewHTTPClient creates a new catalog HTTP client. baseURL includes the API
// prefix, e.g. https://shop.example.com/wp-json/wc/v3.
func NewHTTPClient(baseURL, consumerKey, consumerSecret string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		client:         &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ListProductIDs(ctx context.Context, limit int) ([]int64, error) {
	return c.listIDs(ctx, limit, func(page int) string {
		return "/products?" + c.queries.Products(query.ProductParams{Page: page, PerPage: pageSize})
	})
}

func (c *HTTPClient) ListCustomerIDs(ctx context.Context, limit int) ([]int64, error) {
	return c.listIDs(ctx, limit, func(page int) string {
		return "/customers?" + c.queries.Customers(query.CustomerParams{Page: page, PerPage: pageSize})
	})
}

func (c *HTTPClient) listIDs(ctx context.Context, limit int, path func(page int) string) ([]int64, error) {
	ids := []int64{}
	for page := 1; limit <= 0 || len(ids) < limit; page++ {
		var batch []struct {
			ID int64 `json:"id"`
		}
		if err := c.do(ctx, http.MethodGet, path(page)+"&_fields=id", nil, &batch, ref{kind: "listing"}); err != nil {
			return nil, err
		}
		for _, e := range batch {
			ids = append(ids, e.ID)
		}
		if len(batch) < pageSize {
			break
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (c *HTTPClient) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p wooProduct
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/products/%d", id), nil, &p, ref{"product", id}); err != nil {
		return nil, err
	}
	return p.toModel(), nil
}

func (c *HTTPClient) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var cu wooCustomer
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/customers/%d", id), nil, &cu, ref{"customer", id}); err != nil {
		return nil, err
	}
	return cu.toModel(), nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	var probe []json.RawMessage
	return c.do(ctx, http.MethodGet, "/products?per_page=1&_fields=id", nil, &probe, ref{kind: "catalog"})
}

func (c *HTTPClient) CreateCoupon(ctx context.Context, req CouponRequest) (*Coupon, error) {
	body := map[string]any{
		"code":          req.Code,
		"discount_type": "percent",
		"amount":        strconv.FormatFloat(req.DiscountPercent, 'f', -1, 64),
		"description":   req.Description,
	}
	if len(req.ProductIDs) > 0 {
		body["product_ids"] = req.ProductIDs
	}
	if len(req.CustomerEmails) > 0 {
		body["email_restrictions"] = req.CustomerEmails
	}
	if req.UsageLimit > 0 {
		body["usage_limit"] = req.UsageLimit
	}
	if req.ExpiresAt != nil {
		body["date_expires"] = req.ExpiresAt.UTC().Format("2006-01-02T15:04:05")
	}

	var out struct {
		ID     int64  `json:"id"`
		Code   string `json:"code"`
		Amount string `json:"amount"`
	}
	if err := c.do(ctx, http.MethodPost, "/coupons", body, &out, ref{kind: "coupon endpoint"}); err != nil {
		return nil, err
	}
	return &Coupon{ID: out.ID, Code: strings.ToUpper(out.Code), Amount: parseFloat(out.Amount)}, nil
}

func (c *HTTPClient) UpdateProduct(ctx context.Context, id int64, upd ProductUpdate) (*models.Product, error) {
	body := map[string]any{}
	if upd.RegularPrice != nil {
		body["regular_price"] = formatPrice(*upd.RegularPrice)
	}
	if upd.SalePrice != nil {
		body["sale_price"] = formatPrice(*upd.SalePrice)
	}
	if upd.StockQuantity != nil {
		body["manage_stock"] = true
		body["stock_quantity"] = *upd.StockQuantity
	}
	if upd.Status != nil {
		body["status"] = *upd.Status
	}
	if upd.ShortDescription != nil {
		body["short_description"] = *upd.ShortDescription
	}
	if len(body) == 0 {
		return nil, apperr.Validation("product update has no fields")
	}

	var p wooProduct
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d", id), body, &p, ref{"product", id}); err != nil {
		return nil, err
	}
	return p.toModel(), nil
}

func (c *HTTPClient) CreateBundle(ctx context.Context, req BundleRequest) (int64, error) {
	body := map[string]any{
		"name":             req.Name,
		"type":             "grouped",
		"grouped_products": req.ProductIDs,
	}
	if req.Price > 0 {
		body["regular_price"] = formatPrice(req.Price)
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/products", body, &out, ref{kind: "product endpoint"}); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *HTTPClient) AwardLoyaltyPoints(ctx context.Context, customerID int64, points int, reason string) (int, error) {
	cu, err := c.GetCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	balance := cu.LoyaltyPoints + points
	body := map[string]any{
		"meta_data": []map[string]any{
			{"key": metaLoyaltyPoints, "value": strconv.Itoa(balance)},
			{"key": metaLoyaltyReason, "value": reason},
		},
	}
	var out wooCustomer
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/customers/%d", customerID), body, &out, ref{"customer", customerID}); err != nil {
		return 0, err
	}
	return balance, nil
}

// ref names the resource a request targets, for NotFound errors.
type ref struct {
	kind string
	id   int64
}

func (r ref) notFound() error {
	if r.id == 0 {
		return apperr.NotFound(r.kind, "at this URL")
	}
	return apperr.NotFound(r.kind, r.id)
}

// do sends one request and decodes the JSON response into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any, target ref) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding catalog request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return statusError(resp.StatusCode, raw, target)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Provider("catalog", "invalid response: "+err.Error())
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.consumerKey != "" && c.consumerSecret != "" {
		req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	}
}

func statusError(status int, body []byte, target ref) error {
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &envelope) == nil && envelope.Message != "" {
		msg = envelope.Message
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}

	switch {
	case status == http.StatusNotFound:
		return target.notFound()
	case status == http.StatusBadRequest:
		return apperr.Validation("catalog rejected request", msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return apperr.Transport(fmt.Sprintf("catalog status %d", status), errors.New(msg))
	default:
		return apperr.Provider("catalog", fmt.Sprintf("status %d: %s", status, msg))
	}
}

// classifyError maps transport-level errors to taxonomy errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		e := apperr.Transport("catalog request timed out", err)
		e.Code = apperr.CodeTimeout
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		e := apperr.Transport("catalog request timed out", err)
		e.Code = apperr.CodeTimeout
		return e
	}

	return apperr.Transport("catalog unreachable", err)
}

var (
	_ Source  = (*HTTPClient)(nil)
	_ Mutator = (*HTTPClient)(nil)
)
