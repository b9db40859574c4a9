package actions

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/catalog"
	"github.com/kiranshivaraju/shopmind/internal/notify"
	"github.com/kiranshivaraju/shopmind/internal/validate"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// newExecutor is the dispatch table over the closed set of kinds.
func newExecutor(kind models.ActionType, d Deps, v *validate.Validator, now func() time.Time) Executor {
	switch kind {
	case models.ActionSendEmail:
		return build(v, sendEmail(d))
	case models.ActionSendSMS:
		return build(v, sendSMS(d))
	case models.ActionCreateDiscount:
		return build(v, createDiscount(d, now))
	case models.ActionUpdateProduct:
		return build(v, updateProduct(d))
	case models.ActionCreateCampaign:
		return build(v, createCampaign(d, now))
	case models.ActionScheduleFollowup:
		return build(v, scheduleFollowup(d, now))
	case models.ActionCreateBundle:
		return build(v, createBundle(d))
	case models.ActionInventoryAlert:
		return build(v, inventoryAlert(d))
	case models.ActionLoyaltyReward:
		return build(v, loyaltyReward(d))
	case models.ActionSchedulePriceChange:
		return build(v, schedulePriceChange(d, now))
	}
	return nil
}

func notConfigured(what string) error {
	return apperr.Provider(what, "not configured")
}

// --- send_email ---

type sendEmailParams struct {
	CustomerID int64  `json:"customer_id" validate:"required_without=Email,omitempty,gt=0"`
	Email      string `json:"email"       validate:"required_without=CustomerID,omitempty,email"`
	Subject    string `json:"subject"     validate:"required,max=200"`
	Body       string `json:"body"        validate:"required,max=10000"`
}

func sendEmail(d Deps) definition[sendEmailParams] {
	return definition[sendEmailParams]{
		kind:        models.ActionSendEmail,
		name:        "Send email",
		description: "Email one customer.",
		approval:    true,
		fields: []field{
			customerIDField(false),
			{name: "email", kind: kindString, aliases: keys("email", "to", "recipient", "email_address")},
			{name: "subject", kind: kindString, aliases: keys("subject", "title", "email_subject"), required: true},
			{name: "body", kind: kindString, aliases: keys("body", "message", "content", "email_body"), required: true},
		},
		run: func(ctx context.Context, p *sendEmailParams) (string, map[string]any, error) {
			if d.Mailer == nil {
				return "", nil, notConfigured("email")
			}
			to := p.Email
			if to == "" {
				c, err := customer(ctx, d, p.CustomerID)
				if err != nil {
					return "", nil, err
				}
				if c.Email == "" {
					return "", nil, apperr.Validation(fmt.Sprintf("customer %d has no email address", p.CustomerID))
				}
				to = c.Email
			}
			if err := d.Mailer.Send(ctx, to, p.Subject, p.Body); err != nil {
				return "", nil, err
			}
			return "Email sent", map[string]any{"to": to, "subject": p.Subject}, nil
		},
	}
}

// --- send_sms ---

type sendSMSParams struct {
	CustomerID int64  `json:"customer_id" validate:"required_without=Phone,omitempty,gt=0"`
	Phone      string `json:"phone"       validate:"required_without=CustomerID,omitempty,e164"`
	Message    string `json:"message"     validate:"required,max=480"`
}

func sendSMS(d Deps) definition[sendSMSParams] {
	return definition[sendSMSParams]{
		kind:        models.ActionSendSMS,
		name:        "Send SMS",
		description: "Text one customer.",
		approval:    true,
		fields: []field{
			customerIDField(false),
			{name: "phone", kind: kindString, aliases: keys("phone", "phone_number", "mobile", "to")},
			{name: "message", kind: kindString, aliases: keys("message", "text", "body", "content"), required: true},
		},
		run: func(ctx context.Context, p *sendSMSParams) (string, map[string]any, error) {
			if d.SMS == nil {
				return "", nil, notConfigured("sms")
			}
			to := p.Phone
			if to == "" {
				c, err := customer(ctx, d, p.CustomerID)
				if err != nil {
					return "", nil, err
				}
				if c.Phone == "" {
					return "", nil, apperr.Validation(fmt.Sprintf("customer %d has no phone number", p.CustomerID))
				}
				to = c.Phone
			}
			id, err := d.SMS.Send(ctx, to, p.Message)
			if err != nil {
				return "", nil, err
			}
			return "SMS sent", map[string]any{"message_id": id}, nil
		},
	}
}

// --- create_discount ---

type createDiscountParams struct {
	ProductID       int64   `json:"product_id"       validate:"omitempty,gt=0"`
	CustomerID      int64   `json:"customer_id"      validate:"omitempty,gt=0"`
	DiscountPercent float64 `json:"discount_percent" validate:"required,gt=0,lte=90"`
	ExpiresInDays   int     `json:"expires_in_days"  validate:"gte=1,lte=365"`
	Code            string  `json:"code"             validate:"coupon_code"`
	UsageLimit      int     `json:"usage_limit"      validate:"gte=0"`
}

func createDiscount(d Deps, now func() time.Time) definition[createDiscountParams] {
	product := productIDField()
	product.required = false
	return definition[createDiscountParams]{
		kind:        models.ActionCreateDiscount,
		name:        "Create discount",
		description: "Create a percentage coupon for a product or a customer.",
		approval:    true,
		fields: []field{
			product,
			customerIDField(false),
			{name: "discount_percent", kind: kindFloat, aliases: keys("discount_percent", "discount_percentage", "discount", "percent", "percentage"), required: true},
			{name: "expires_in_days", kind: kindInt, aliases: keys("expires_in_days", "duration_days", "valid_days", "days"), def: 7},
			{name: "code", kind: kindString, aliases: keys("code", "coupon_code")},
			{name: "usage_limit", kind: kindInt, aliases: keys("usage_limit", "max_uses")},
		},
		check: func(p *createDiscountParams) []string {
			if p.ProductID == 0 && p.CustomerID == 0 {
				return []string{"product_id or customer_id is required"}
			}
			return nil
		},
		run: func(ctx context.Context, p *createDiscountParams) (string, map[string]any, error) {
			if d.Catalog == nil {
				return "", nil, notConfigured("catalog")
			}
			expires := now().UTC().AddDate(0, 0, p.ExpiresInDays)
			req := catalog.CouponRequest{
				Code:            p.Code,
				DiscountPercent: p.DiscountPercent,
				UsageLimit:      p.UsageLimit,
				ExpiresAt:       &expires,
			}
			if req.Code == "" {
				req.Code = couponCode(p.DiscountPercent)
			}
			if p.ProductID != 0 {
				req.ProductIDs = []int64{p.ProductID}
				req.Description = fmt.Sprintf("%s%% off product %d", formatPercent(p.DiscountPercent), p.ProductID)
			}
			if p.CustomerID != 0 {
				c, err := customer(ctx, d, p.CustomerID)
				if err != nil {
					return "", nil, err
				}
				if c.Email != "" {
					req.CustomerEmails = []string{c.Email}
				}
				if req.UsageLimit == 0 {
					req.UsageLimit = 1
				}
				if req.Description == "" {
					req.Description = fmt.Sprintf("%s%% off for customer %d", formatPercent(p.DiscountPercent), p.CustomerID)
				}
			}

			coupon, err := d.Catalog.CreateCoupon(ctx, req)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Created %s%% coupon %s", formatPercent(p.DiscountPercent), coupon.Code), map[string]any{
				"coupon_id":        coupon.ID,
				"coupon_code":      coupon.Code,
				"discount_percent": p.DiscountPercent,
				"expires_at":       expires.Format(time.RFC3339),
			}, nil
		},
	}
}

// couponCode returns e.g. SAVE15-3F9A1C.
func couponCode(percent float64) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("SAVE%d-%s", int(math.Round(percent)), suffix)
}

func formatPercent(p float64) string {
	if p == math.Trunc(p) {
		return fmt.Sprintf("%d", int(p))
	}
	return fmt.Sprintf("%.1f", p)
}

// --- update_product ---

type updateProductParams struct {
	ProductID     int64    `json:"product_id"     validate:"required,gt=0"`
	RegularPrice  *float64 `json:"regular_price"  validate:"omitempty,gt=0"`
	SalePrice     *float64 `json:"sale_price"     validate:"omitempty,gte=0"`
	StockQuantity *int     `json:"stock_quantity" validate:"omitempty,gte=0"`
	Status        *string  `json:"status"         validate:"omitempty,oneof=publish draft pending private"`
}

func updateProduct(d Deps) definition[updateProductParams] {
	return definition[updateProductParams]{
		kind:        models.ActionUpdateProduct,
		name:        "Update product",
		description: "Change a product's price, stock or status.",
		approval:    true,
		fields: []field{
			productIDField(),
			{name: "regular_price", kind: kindFloat, aliases: keys("regular_price", "price", "new_price")},
			{name: "sale_price", kind: kindFloat, aliases: keys("sale_price", "discounted_price")},
			{name: "stock_quantity", kind: kindInt, aliases: keys("stock_quantity", "stock", "quantity")},
			{name: "status", kind: kindString, aliases: keys("status", "product_status")},
		},
		check: func(p *updateProductParams) []string {
			if p.RegularPrice == nil && p.SalePrice == nil && p.StockQuantity == nil && p.Status == nil {
				return []string{"at least one of regular_price, sale_price, stock_quantity or status is required"}
			}
			if p.RegularPrice != nil && p.SalePrice != nil && *p.SalePrice >= *p.RegularPrice {
				return []string{"sale_price must be lower than regular_price"}
			}
			return nil
		},
		run: func(ctx context.Context, p *updateProductParams) (string, map[string]any, error) {
			if d.Catalog == nil {
				return "", nil, notConfigured("catalog")
			}
			upd := catalog.ProductUpdate{
				RegularPrice:  p.RegularPrice,
				SalePrice:     p.SalePrice,
				StockQuantity: p.StockQuantity,
				Status:        p.Status,
			}
			product, err := d.Catalog.UpdateProduct(ctx, p.ProductID, upd)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Updated product %d", p.ProductID), map[string]any{
				"product_id":     product.ID,
				"price":          product.Price,
				"regular_price":  product.RegularPrice,
				"sale_price":     product.SalePrice,
				"stock_quantity": product.StockQuantity,
				"status":         product.Status,
			}, nil
		},
	}
}

// --- create_campaign ---

type createCampaignParams struct {
	Name        string  `json:"name"          validate:"required,max=120"`
	Channel     string  `json:"channel"       validate:"oneof=email sms"`
	CustomerIDs []int64 `json:"customer_ids"  validate:"required,min=1,max=1000,dive,gt=0"`
	Subject     string  `json:"subject"       validate:"required_if=Channel email,max=200"`
	Body        string  `json:"body"          validate:"required,max=10000"`
	StartInDays int     `json:"start_in_days" validate:"gte=0,lte=90"`
}

func createCampaign(d Deps, now func() time.Time) definition[createCampaignParams] {
	return definition[createCampaignParams]{
		kind:        models.ActionCreateCampaign,
		name:        "Create campaign",
		description: "Schedule an email or SMS campaign to a list of customers.",
		approval:    true,
		fields: []field{
			{name: "name", kind: kindString, aliases: keys("name", "campaign_name", "title"), required: true},
			{name: "channel", kind: kindString, aliases: keys("channel", "medium"), def: "email"},
			{name: "customer_ids", kind: kindIntList, aliases: keys("customer_ids", "customers", "target_customer_ids", "recipients"), required: true},
			{name: "subject", kind: kindString, aliases: keys("subject", "email_subject")},
			{name: "body", kind: kindString, aliases: keys("body", "message", "content"), required: true},
			{name: "start_in_days", kind: kindInt, aliases: keys("start_in_days", "delay_days", "days_from_now"), def: 0},
		},
		run: func(ctx context.Context, p *createCampaignParams) (string, map[string]any, error) {
			task := &models.ScheduledTask{
				TaskType: models.TaskCampaign,
				Payload: map[string]any{
					"name":         p.Name,
					"channel":      p.Channel,
					"customer_ids": p.CustomerIDs,
					"subject":      p.Subject,
					"body":         p.Body,
				},
				RunAt: now().UTC().AddDate(0, 0, p.StartInDays),
			}
			if err := schedule(ctx, d, task, now); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Campaign %q scheduled for %d customers", p.Name, len(p.CustomerIDs)), map[string]any{
				"task_id":    task.ID.String(),
				"run_at":     task.RunAt.Format(time.RFC3339),
				"recipients": len(p.CustomerIDs),
			}, nil
		},
	}
}

// --- schedule_followup ---

type scheduleFollowupParams struct {
	CustomerID int64  `json:"customer_id" validate:"required,gt=0"`
	Days       int    `json:"days"        validate:"gte=1,lte=365"`
	Note       string `json:"note"        validate:"max=1000"`
}

func scheduleFollowup(d Deps, now func() time.Time) definition[scheduleFollowupParams] {
	return definition[scheduleFollowupParams]{
		kind:        models.ActionScheduleFollowup,
		name:        "Schedule follow-up",
		description: "Remind the team to follow up with a customer.",
		approval:    false,
		fields: []field{
			customerIDField(true),
			{name: "days", kind: kindInt, aliases: keys("days", "days_from_now", "delay_days", "in_days", "follow_up_days"), def: 7},
			{name: "note", kind: kindString, aliases: keys("note", "message", "reason", "notes")},
		},
		run: func(ctx context.Context, p *scheduleFollowupParams) (string, map[string]any, error) {
			task := &models.ScheduledTask{
				TaskType: models.TaskFollowup,
				Payload:  map[string]any{"customer_id": p.CustomerID, "note": p.Note},
				RunAt:    now().UTC().AddDate(0, 0, p.Days),
			}
			if err := schedule(ctx, d, task, now); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Follow-up with customer %d scheduled in %d days", p.CustomerID, p.Days), map[string]any{
				"task_id": task.ID.String(),
				"run_at":  task.RunAt.Format(time.RFC3339),
			}, nil
		},
	}
}

// --- create_bundle ---

type createBundleParams struct {
	ProductIDs  []int64 `json:"product_ids"  validate:"required,min=2,max=20,dive,gt=0"`
	Name        string  `json:"name"         validate:"max=120"`
	BundlePrice float64 `json:"bundle_price" validate:"required,gt=0"`
}

func createBundle(d Deps) definition[createBundleParams] {
	return definition[createBundleParams]{
		kind:        models.ActionCreateBundle,
		name:        "Create bundle",
		description: "Create a grouped product from existing products.",
		approval:    true,
		fields: []field{
			{name: "product_ids", kind: kindIntList, aliases: keys("product_ids", "products", "items", "bundle_products"), required: true},
			{name: "name", kind: kindString, aliases: keys("name", "bundle_name", "title")},
			{name: "bundle_price", kind: kindFloat, aliases: keys("bundle_price", "price"), required: true},
		},
		check: func(p *createBundleParams) []string {
			seen := make(map[int64]bool, len(p.ProductIDs))
			for _, id := range p.ProductIDs {
				if seen[id] {
					return []string{fmt.Sprintf("product_ids contains %d more than once", id)}
				}
				seen[id] = true
			}
			return nil
		},
		run: func(ctx context.Context, p *createBundleParams) (string, map[string]any, error) {
			if d.Catalog == nil {
				return "", nil, notConfigured("catalog")
			}
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("Bundle of %d products", len(p.ProductIDs))
			}
			id, err := d.Catalog.CreateBundle(ctx, catalog.BundleRequest{Name: name, ProductIDs: p.ProductIDs, Price: p.BundlePrice})
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Created bundle %q", name), map[string]any{
				"bundle_id":   id,
				"product_ids": p.ProductIDs,
				"price":       p.BundlePrice,
			}, nil
		},
	}
}

// --- inventory_alert ---

type inventoryAlertParams struct {
	ProductID    int64  `json:"product_id"    validate:"required,gt=0"`
	CurrentStock *int   `json:"current_stock" validate:"omitempty,gte=0"`
	Threshold    int    `json:"threshold"     validate:"gte=0"`
	Message      string `json:"message"       validate:"max=1000"`
}

func inventoryAlert(d Deps) definition[inventoryAlertParams] {
	return definition[inventoryAlertParams]{
		kind:        models.ActionInventoryAlert,
		name:        "Inventory alert",
		description: "Alert the store operator about a stock problem.",
		approval:    false,
		fields: []field{
			productIDField(),
			{name: "current_stock", kind: kindInt, aliases: keys("current_stock", "stock", "stock_quantity", "quantity")},
			{name: "threshold", kind: kindInt, aliases: keys("threshold", "reorder_point", "min_stock"), def: 10},
			{name: "message", kind: kindString, aliases: keys("message", "note", "reason")},
		},
		run: func(ctx context.Context, p *inventoryAlertParams) (string, map[string]any, error) {
			if d.Notifier == nil {
				return "", nil, notConfigured("notifier")
			}
			body := p.Message
			if body == "" {
				body = fmt.Sprintf("Product %d needs attention: stock is near or below the reorder threshold of %d.", p.ProductID, p.Threshold)
			}
			fields := map[string]any{"product_id": p.ProductID, "threshold": p.Threshold}
			if p.CurrentStock != nil {
				fields["current_stock"] = *p.CurrentStock
			}
			d.Notifier.Notify(ctx, notify.Alert{
				Level:   notify.LevelWarning,
				Subject: fmt.Sprintf("Inventory alert for product %d", p.ProductID),
				Body:    body,
				Fields:  fields,
			})
			return "Inventory alert sent", map[string]any{"product_id": p.ProductID, "notified": true}, nil
		},
	}
}

// --- loyalty_reward ---

type loyaltyRewardParams struct {
	CustomerID int64  `json:"customer_id" validate:"required,gt=0"`
	Points     int    `json:"points"      validate:"required,gt=0,lte=10000"`
	Reason     string `json:"reason"      validate:"max=200"`
}

func loyaltyReward(d Deps) definition[loyaltyRewardParams] {
	return definition[loyaltyRewardParams]{
		kind:        models.ActionLoyaltyReward,
		name:        "Loyalty reward",
		description: "Award loyalty points to a customer.",
		approval:    true,
		fields: []field{
			customerIDField(true),
			{name: "points", kind: kindInt, aliases: keys("points", "loyalty_points", "reward_points", "amount"), required: true},
			{name: "reason", kind: kindString, aliases: keys("reason", "note", "message"), def: "loyalty reward"},
		},
		run: func(ctx context.Context, p *loyaltyRewardParams) (string, map[string]any, error) {
			if d.Catalog == nil {
				return "", nil, notConfigured("catalog")
			}
			balance, err := d.Catalog.AwardLoyaltyPoints(ctx, p.CustomerID, p.Points, p.Reason)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Awarded %d points to customer %d", p.Points, p.CustomerID), map[string]any{
				"points_awarded": p.Points,
				"balance":        balance,
			}, nil
		},
	}
}

// --- schedule_price_change ---

type schedulePriceChangeParams struct {
	ProductID   int64   `json:"product_id"    validate:"required,gt=0"`
	NewPrice    float64 `json:"new_price"     validate:"required,gt=0"`
	DaysFromNow int     `json:"days_from_now" validate:"gte=0,lte=365"`
}

func schedulePriceChange(d Deps, now func() time.Time) definition[schedulePriceChangeParams] {
	return definition[schedulePriceChangeParams]{
		kind:        models.ActionSchedulePriceChange,
		name:        "Schedule price change",
		description: "Change a product's regular price at a later date.",
		approval:    true,
		fields: []field{
			productIDField(),
			{name: "new_price", kind: kindFloat, aliases: keys("new_price", "price", "target_price"), required: true},
			{name: "days_from_now", kind: kindInt, aliases: keys("days_from_now", "days", "delay_days", "in_days"), def: 1},
		},
		run: func(ctx context.Context, p *schedulePriceChangeParams) (string, map[string]any, error) {
			task := &models.ScheduledTask{
				TaskType: models.TaskPriceChange,
				Payload:  map[string]any{"product_id": p.ProductID, "new_price": p.NewPrice},
				RunAt:    now().UTC().AddDate(0, 0, p.DaysFromNow),
			}
			if err := schedule(ctx, d, task, now); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Price change for product %d scheduled", p.ProductID), map[string]any{
				"task_id":   task.ID.String(),
				"run_at":    task.RunAt.Format(time.RFC3339),
				"new_price": p.NewPrice,
			}, nil
		},
	}
}

func customer(ctx context.Context, d Deps, id int64) (*models.Customer, error) {
	if d.Customers == nil {
		return nil, notConfigured("catalog")
	}
	return d.Customers.GetCustomer(ctx, id)
}

func schedule(ctx context.Context, d Deps, task *models.ScheduledTask, now func() time.Time) error {
	if d.Tasks == nil {
		return notConfigured("scheduler")
	}
	task.ID = uuid.New()
	task.ActionID = actionIDFrom(ctx)
	task.Status = models.TaskStatusScheduled
	task.CreatedAt = now().UTC()
	if err := d.Tasks.CreateScheduledTask(ctx, task); err != nil {
		return apperr.Persistence("saving scheduled task", err)
	}
	return nil
}
