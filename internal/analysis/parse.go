package analysis

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// NeutralScore is used when the model gives no usable priority score.
const NeutralScore = 50

// Result is a parsed model reply.
type Result struct {
	Analysis      string
	PriorityScore int
	Suggestions   []models.Suggestion
	// Extra holds any top-level keys beyond the known ones.
	Extra map[string]any
}

// Accepted spellings per logical key, compared after normalizeKey.
var (
	analysisKeys    = []string{"analysis", "summary", "assessment"}
	scoreKeys       = []string{"priorityscore", "score", "priority"}
	suggestionKeys  = []string{"suggestions", "actions", "recommendations"}
	typeKeys        = []string{"type", "actiontype", "action"}
	priorityKeys    = []string{"priority", "urgency"}
	dataKeys        = []string{"data", "params", "parameters", "actiondata"}
	reasoningKeys   = []string{"reasoning", "reason", "rationale", "explanation"}
	knownTopLevel   = append(append(append([]string{}, analysisKeys...), scoreKeys...), suggestionKeys...)
	errNoJSONObject = errors.New("no JSON object found")
)

// Parse extracts the analysis from raw model output. It tolerates Markdown
// code fences, prose around the object, and key casing such as
// priorityScore or PriorityScore. Only a reply without any decodable object
// is an error.
func Parse(raw string) (*Result, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, apperr.Parse("model reply is not a JSON object", err)
	}
	fields := normalizeMap(obj)

	res := &Result{
		PriorityScore: ClampScore(lookup(fields, scoreKeys)),
		Suggestions:   []models.Suggestion{},
		Extra:         map[string]any{},
	}
	if s, ok := lookup(fields, analysisKeys).(string); ok {
		res.Analysis = strings.TrimSpace(s)
	}
	if list, ok := lookup(fields, suggestionKeys).([]any); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				if s, ok := parseSuggestion(m); ok {
					res.Suggestions = append(res.Suggestions, s)
				}
			}
		}
	}
	for k, v := range obj {
		if !contains(knownTopLevel, normalizeKey(k)) {
			res.Extra[k] = v
		}
	}
	return res, nil
}

func parseSuggestion(m map[string]any) (models.Suggestion, bool) {
	fields := normalizeMap(m)
	typ, _ := lookup(fields, typeKeys).(string)
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ == "" {
		return models.Suggestion{}, false
	}

	s := models.Suggestion{
		Type:     strings.ReplaceAll(typ, " ", "_"),
		Priority: normalizePriority(lookup(fields, priorityKeys)),
		Data:     map[string]any{},
	}
	if d, ok := lookup(fields, dataKeys).(map[string]any); ok {
		s.Data = d
	}
	if r, ok := lookup(fields, reasoningKeys).(string); ok {
		s.Reasoning = strings.TrimSpace(r)
	}
	return s, true
}

func normalizePriority(v any) string {
	s, _ := v.(string)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "urgent", "critical":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

// ClampScore converts a model-supplied score to an integer in [0,100].
// Numbers and numeric strings are rounded and clamped; anything else is
// NeutralScore.
func ClampScore(v any) int {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return NeutralScore
		}
		f = n
	case int:
		f = float64(x)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
		if err != nil {
			return NeutralScore
		}
		f = n
	default:
		return NeutralScore
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NeutralScore
	}
	f = math.Round(f)
	if f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return int(f)
}

// decodeObject tries the reply as is, then with fences stripped, then every
// balanced {...} in order. Fence stripping can cut a reply whose strings
// contain backticks, so the unstripped text is always scanned too.
func decodeObject(raw string) (map[string]any, error) {
	stripped := stripFences(raw)
	texts := []string{strings.TrimSpace(raw), stripped}
	for _, text := range texts {
		if obj, ok := unmarshalObject(text); ok {
			return obj, nil
		}
	}
	for _, text := range texts {
		for start := strings.IndexByte(text, '{'); start >= 0; {
			if candidate, ok := objectAt(text, start); ok {
				if obj, ok := unmarshalObject(candidate); ok {
					return obj, nil
				}
			}
			n := strings.IndexByte(text[start+1:], '{')
			if n < 0 {
				break
			}
			start += n + 1
		}
	}
	return nil, errNoJSONObject
}

func unmarshalObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// stripFences removes a surrounding ``` or ```json fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// objectAt returns the balanced {...} opening at s[start], honoring braces
// inside JSON strings.
func objectAt(s string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeMap keys m by normalizeKey. When spellings collide the
// lower-case one wins, then the lexically smallest, so priority_score beats
// priorityScore regardless of map order.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	from := make(map[string]string, len(m))
	for k, v := range m {
		nk := normalizeKey(k)
		if prev, dup := from[nk]; dup && !preferKey(k, prev) {
			continue
		}
		from[nk] = k
		out[nk] = v
	}
	return out
}

func preferKey(k, prev string) bool {
	kl, pl := k == strings.ToLower(k), prev == strings.ToLower(prev)
	if kl != pl {
		return kl
	}
	return k < prev
}

func lookup(fields map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			return v
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
