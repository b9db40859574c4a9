package actions

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/catalog"
	"github.com/kiranshivaraju/shopmind/internal/notify"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// fakeMutator records catalog mutations; the Func fields override behavior.
type fakeMutator struct {
	mu      sync.Mutex
	calls   int
	coupons []catalog.CouponRequest
	updates map[int64]catalog.ProductUpdate
	bundles []catalog.BundleRequest
	points  map[int64]int

	CreateCouponFunc func(ctx context.Context, req catalog.CouponRequest) (*catalog.Coupon, error)
}

func (f *fakeMutator) CreateCoupon(ctx context.Context, req catalog.CouponRequest) (*catalog.Coupon, error) {
	f.mu.Lock()
	f.calls++
	f.coupons = append(f.coupons, req)
	f.mu.Unlock()
	if f.CreateCouponFunc != nil {
		return f.CreateCouponFunc(ctx, req)
	}
	return &catalog.Coupon{ID: 901, Code: req.Code, Amount: req.DiscountPercent}, nil
}

func (f *fakeMutator) UpdateProduct(_ context.Context, id int64, upd catalog.ProductUpdate) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.updates == nil {
		f.updates = map[int64]catalog.ProductUpdate{}
	}
	f.updates[id] = upd
	p := &models.Product{ID: id, Price: 20, RegularPrice: 20, Status: "publish"}
	if upd.RegularPrice != nil {
		p.RegularPrice, p.Price = *upd.RegularPrice, *upd.RegularPrice
	}
	if upd.SalePrice != nil {
		p.SalePrice, p.Price = *upd.SalePrice, *upd.SalePrice
	}
	return p, nil
}

func (f *fakeMutator) CreateBundle(_ context.Context, req catalog.BundleRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.bundles = append(f.bundles, req)
	return 555, nil
}

func (f *fakeMutator) AwardLoyaltyPoints(_ context.Context, customerID int64, points int, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.points == nil {
		f.points = map[int64]int{}
	}
	f.points[customerID] += points
	return 100 + f.points[customerID], nil
}

func (f *fakeMutator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCustomers struct {
	customers map[int64]*models.Customer
}

func (f fakeCustomers) ListProductIDs(context.Context, int) ([]int64, error) { return nil, nil }
func (f fakeCustomers) ListCustomerIDs(context.Context, int) ([]int64, error) { return nil, nil }
func (f fakeCustomers) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	return nil, apperr.NotFound("product", id)
}
func (f fakeCustomers) Ready(context.Context) error { return nil }

func (f fakeCustomers) GetCustomer(_ context.Context, id int64) (*models.Customer, error) {
	if c, ok := f.customers[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("customer", id)
}

type sentEmail struct{ to, subject, body string }

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{to, subject, body})
	return nil
}

type fakeSMS struct {
	to, text string
}

func (f *fakeSMS) Send(_ context.Context, to, text string) (string, error) {
	f.to, f.text = to, text
	return "sms-1", nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (f *fakeNotifier) Notify(_ context.Context, a notify.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks []*models.ScheduledTask
	err   error
}

func (f *fakeTasks) CreateScheduledTask(_ context.Context, task *models.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func testCustomers() fakeCustomers {
	return fakeCustomers{customers: map[int64]*models.Customer{
		7: {ID: 7, Email: "jane@example.com", Phone: "+15550001111"},
		8: {ID: 8},
	}}
}
