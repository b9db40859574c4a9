package analysis

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/kiranshivaraju/shopmind/pkg/models"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var templates = template.Must(
	template.New("prompts").
		Funcs(template.FuncMap{
			"join": func(items []models.ActionType, sep string) string {
				s := make([]string, len(items))
				for i, t := range items {
					s[i] = string(t)
				}
				return strings.Join(s, sep)
			},
		}).
		ParseFS(promptFS, "prompts/*.tmpl"),
)

// actionHints documents the data keys each action kind expects.
var actionHints = map[models.ActionType]string{
	models.ActionSendEmail:           `{"customer_id", "subject", "body"}`,
	models.ActionSendSMS:             `{"customer_id", "message"}`,
	models.ActionCreateDiscount:      `{"product_id", "discount_percent", "expires_in_days"}`,
	models.ActionUpdateProduct:       `{"product_id", and any of "regular_price", "sale_price", "stock_quantity", "status"}`,
	models.ActionCreateCampaign:      `{"name", "channel" (email|sms), "customer_ids", "subject", "body", "start_in_days"}`,
	models.ActionScheduleFollowup:    `{"customer_id", "days", "note"}`,
	models.ActionCreateBundle:        `{"product_ids", "name", "bundle_price"}`,
	models.ActionInventoryAlert:      `{"product_id", "current_stock", "threshold"}`,
	models.ActionLoyaltyReward:       `{"customer_id", "points", "reason"}`,
	models.ActionSchedulePriceChange: `{"product_id", "new_price", "days_from_now"}`,
}

type promptProfile struct {
	Role       string
	Objective  string
	FocusAreas []string
}

var profiles = map[models.AnalysisType]promptProfile{
	models.AnalysisTypeProduct: {
		Role:      "merchandising analyst",
		Objective: "find pricing, stock and promotion actions that improve sell-through and margin for this product.",
		FocusAreas: []string{
			"price against regular price and any active sale",
			"sales velocity over the last 30 days against lifetime sales",
			"stock coverage: overstock ties up cash, low stock loses sales",
			"rating and review volume as a demand signal",
		},
	},
	models.AnalysisTypeCustomer: {
		Role:      "customer retention analyst",
		Objective: "find engagement actions that grow lifetime value and prevent churn for this customer.",
		FocusAreas: []string{
			"recency: days since the last order",
			"frequency and average order value",
			"loyalty point balance and reward eligibility",
			"favorite categories for personalised offers",
		},
	},
}

type actionHint struct {
	Type   models.ActionType
	Fields string
}

// Entity is what a prompt is built from.
type Entity struct {
	Type    models.AnalysisType
	ID      int64
	Metrics map[string]any
}

// BuildPrompt returns the system and user messages for one entity. allowed
// lists the action kinds the model may suggest; empty means all.
func BuildPrompt(e Entity, allowed []models.ActionType) ([]models.Message, error) {
	profile, ok := profiles[e.Type]
	if !ok {
		return nil, fmt.Errorf("no prompt profile for %q", e.Type)
	}
	if len(allowed) == 0 {
		allowed = models.ActionTypes
	}

	hints := make([]actionHint, 0, len(allowed))
	for _, t := range allowed {
		hints = append(hints, actionHint{Type: t, Fields: actionHints[t]})
	}

	metrics, err := json.MarshalIndent(e.Metrics, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metrics: %w", err)
	}

	var system, user bytes.Buffer
	if err := templates.ExecuteTemplate(&system, "system.tmpl", map[string]any{
		"Role":        profile.Role,
		"Objective":   profile.Objective,
		"ActionTypes": allowed,
		"Hints":       hints,
	}); err != nil {
		return nil, fmt.Errorf("rendering system prompt: %w", err)
	}
	if err := templates.ExecuteTemplate(&user, "user.tmpl", map[string]any{
		"EntityType": string(e.Type),
		"EntityID":   e.ID,
		"Metrics":    string(metrics),
		"FocusAreas": profile.FocusAreas,
	}); err != nil {
		return nil, fmt.Errorf("rendering user prompt: %w", err)
	}

	return []models.Message{
		{Role: models.RoleSystem, Content: strings.TrimSpace(system.String())},
		{Role: models.RoleUser, Content: strings.TrimSpace(user.String())},
	}, nil
}
