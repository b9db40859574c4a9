package analysis

import (
	"strings"
	"testing"

	"github.com/kiranshivaraju/shopmind/pkg/models"
)

func TestBuildPrompt_Product(t *testing.T) {
	msgs, err := BuildPrompt(Entity{
		Type:    models.AnalysisTypeProduct,
		ID:      42,
		Metrics: map[string]any{"price": 19.99, "stock_quantity": 140},
	}, []models.ActionType{models.ActionCreateDiscount, models.ActionInventoryAlert})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleSystem || msgs[1].Role != models.RoleUser {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	system := msgs[0].Content
	for _, want := range []string{"merchandising analyst", `"priority_score"`, "create_discount, inventory_alert", `"discount_percent"`} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(system, "send_sms") {
		t.Errorf("system prompt lists a kind that is not allowed")
	}

	user := msgs[1].Content
	for _, want := range []string{"product (id 42)", `"stock_quantity": 140`, "sales velocity", "80-100"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_CustomerDefaultsToAllKinds(t *testing.T) {
	msgs, err := BuildPrompt(Entity{Type: models.AnalysisTypeCustomer, ID: 5, Metrics: map[string]any{}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, k := range models.ActionTypes {
		if !strings.Contains(msgs[0].Content, string(k)) {
			t.Errorf("system prompt missing kind %s", k)
		}
	}
	if !strings.Contains(msgs[0].Content, "retention analyst") {
		t.Errorf("expected customer profile")
	}
}

func TestBuildPrompt_IsDeterministic(t *testing.T) {
	e := Entity{Type: models.AnalysisTypeProduct, ID: 1, Metrics: map[string]any{"b": 2, "a": 1, "c": []string{"x"}}}
	first, _ := BuildPrompt(e, nil)
	for i := 0; i < 5; i++ {
		again, _ := BuildPrompt(e, nil)
		if again[1].Content != first[1].Content || again[0].Content != first[0].Content {
			t.Fatal("prompt output changed between calls")
		}
	}
}

func TestBuildPrompt_UnknownType(t *testing.T) {
	if _, err := BuildPrompt(Entity{Type: "order"}, nil); err == nil {
		t.Fatal("expected error for unknown entity type")
	}
}
