package actions

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type fieldKind int

const (
	kindInt fieldKind = iota
	kindFloat
	kindString
	kindIntList
)

func (k fieldKind) String() string {
	switch k {
	case kindInt:
		return "integer"
	case kindFloat:
		return "number"
	case kindIntList:
		return "integer list"
	default:
		return "string"
	}
}

// alias is one accepted spelling of a field. When entityType is set the key
// only applies if the data's entity_type matches it.
type alias struct {
	key        string
	entityType string
}

// field is one logical input of an action kind. Aliases are tried in order;
// the first present, non-empty value wins.
type field struct {
	name     string
	kind     fieldKind
	aliases  []alias
	required bool
	def      any
}

func keys(names ...string) []alias {
	out := make([]alias, len(names))
	for i, n := range names {
		out[i] = alias{key: n}
	}
	return out
}

// entityRef accepts the generic entity_id when entity_type names t.
func entityRef(t string) alias { return alias{key: "entity_id", entityType: t} }

func productIDField() field {
	return field{
		name:     "product_id",
		kind:     kindInt,
		aliases:  []alias{{key: "product_id"}, entityRef("product"), {key: "product"}, {key: "id"}},
		required: true,
	}
}

func customerIDField(required bool) field {
	return field{
		name:     "customer_id",
		kind:     kindInt,
		aliases:  []alias{{key: "customer_id"}, entityRef("customer"), {key: "user_id"}, {key: "customer"}},
		required: required,
	}
}

// normalize resolves fields from data into a map keyed by canonical field
// names with coerced values. Defaults fill absent fields. Keys match
// regardless of case, underscores and dashes.
func normalize(data map[string]any, fields []field) (map[string]any, []string) {
	index := make(map[string]any, len(data))
	from := make(map[string]string, len(data))
	for k, v := range data {
		nk := normalizeKey(k)
		if prev, dup := from[nk]; dup && !preferKey(k, v, prev, index[nk]) {
			continue
		}
		from[nk] = k
		index[nk] = v
	}
	entityType, _ := index["entitytype"].(string)
	entityType = strings.ToLower(strings.TrimSpace(entityType))

	out := make(map[string]any, len(fields))
	var errs []string
	for _, f := range fields {
		raw, from, ok := f.lookup(index, entityType)
		if !ok {
			if f.def != nil {
				out[f.name] = f.def
			}
			continue
		}
		v, err := coerce(raw, f.kind)
		if err != nil {
			if from != f.name {
				errs = append(errs, fmt.Sprintf("%s (from %s) must be %s", f.name, from, article(f.kind)))
			} else {
				errs = append(errs, fmt.Sprintf("%s must be %s", f.name, article(f.kind)))
			}
			continue
		}
		out[f.name] = v
	}
	return out, errs
}

func (f field) lookup(index map[string]any, entityType string) (any, string, bool) {
	for _, a := range f.aliases {
		if a.entityType != "" && a.entityType != entityType {
			continue
		}
		v, ok := index[normalizeKey(a.key)]
		if !ok || isBlank(v) {
			continue
		}
		return v, a.key, true
	}
	return nil, "", false
}

func (f field) meta() FieldMeta {
	m := FieldMeta{Name: f.name, Type: f.kind.String(), Required: f.required}
	for _, a := range f.aliases {
		if a.key == f.name {
			continue
		}
		if a.entityType != "" {
			m.Aliases = append(m.Aliases, fmt.Sprintf("%s (entity_type=%s)", a.key, a.entityType))
			continue
		}
		m.Aliases = append(m.Aliases, a.key)
	}
	return m
}

// preferKey decides between two spellings of one key, say product_id and
// productId, independent of map order: a non-blank value first, then the
// lower-case spelling, then the lexically smallest.
func preferKey(k string, v any, prev string, prevV any) bool {
	if isBlank(v) != isBlank(prevV) {
		return !isBlank(v)
	}
	kl, pl := k == strings.ToLower(k), prev == strings.ToLower(prev)
	if kl != pl {
		return kl
	}
	return k < prev
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func article(k fieldKind) string {
	if k == kindInt || k == kindIntList {
		return "an " + k.String()
	}
	return "a " + k.String()
}

func coerce(v any, k fieldKind) (any, error) {
	switch k {
	case kindInt:
		return toInt(v)
	case kindFloat:
		return toFloat(v)
	case kindIntList:
		return toIntList(v)
	default:
		return toString(v)
	}
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("not a whole number")
		}
		return int64(t), nil
	case json.Number:
		return toInt(string(t))
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(t), "#")
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return toInt(f)
	case map[string]any:
		if id, ok := t["id"]; ok {
			return toInt(id)
		}
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("not finite")
		}
		return t, nil
	case json.Number:
		return t.Float64()
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimSuffix(s, "%")
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int, int64, bool, json.Number:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("unsupported type %T", v)
}

func toIntList(v any) ([]int64, error) {
	switch t := v.(type) {
	case []int64:
		return t, nil
	case []any:
		out := make([]int64, 0, len(t))
		for _, item := range t {
			n, err := toInt(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case string:
		var out []int64
		for _, part := range strings.Split(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				n, err := toInt(p)
				if err != nil {
					return nil, err
				}
				out = append(out, n)
			}
		}
		return out, nil
	default:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return []int64{n}, nil
	}
}

// bind copies normalized values into a typed params struct.
func bind(values map[string]any, dst any) error {
	b, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	return json.Unmarshal(b, dst)
}
