// Package settings exposes runtime-tunable values stored in the settings
// table, falling back to the values loaded from the environment.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

const (
	KeyAIDebug            = "ai_debug"
	KeyJobBatchSize       = "job_batch_size"
	KeyActionMaxRetries   = "action_max_retries"
	KeyActionAutoExecute  = "action_auto_execute"
	KeyActionEnabledTypes = "action_enabled_types"
)

// Backend is the subset of store.Store the settings service needs.
type Backend interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

type valueKind int

const (
	kindBool valueKind = iota
	kindInt
	kindActionList
)

type definition struct {
	kind valueKind
	min  int
}

var definitions = map[string]definition{
	KeyAIDebug:            {kind: kindBool},
	KeyJobBatchSize:       {kind: kindInt, min: 1},
	KeyActionMaxRetries:   {kind: kindInt, min: 0},
	KeyActionAutoExecute:  {kind: kindActionList},
	KeyActionEnabledTypes: {kind: kindActionList},
}

// Service reads and writes settings.
type Service struct {
	backend  Backend
	defaults map[string]string
}

// New builds a Service whose defaults come from cfg.
func New(backend Backend, cfg *config.Config) *Service {
	return &Service{
		backend: backend,
		defaults: map[string]string{
			KeyAIDebug:            strconv.FormatBool(cfg.AI.Debug),
			KeyJobBatchSize:       strconv.Itoa(cfg.Job.BatchSize),
			KeyActionMaxRetries:   strconv.Itoa(cfg.Actions.MaxRetries),
			KeyActionAutoExecute:  strings.Join(cfg.Actions.AutoExecute, ","),
			KeyActionEnabledTypes: strings.Join(cfg.Actions.Enabled, ","),
		},
	}
}

// Keys returns the known setting names in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(definitions))
	for k := range definitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the stored value for key, or its default.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	if _, ok := definitions[key]; !ok {
		return "", apperr.NotFound("setting", key)
	}
	v, ok, err := s.backend.GetSetting(ctx, key)
	if err != nil {
		return "", apperr.Persistence("get setting", err)
	}
	if !ok {
		return s.defaults[key], nil
	}
	return v, nil
}

// Set validates and stores value under key.
func (s *Service) Set(ctx context.Context, key, value string) error {
	def, ok := definitions[key]
	if !ok {
		return apperr.NotFound("setting", key)
	}
	normalized, err := normalize(def, value)
	if err != nil {
		return apperr.Validation(fmt.Sprintf("invalid value for %s", key), err.Error())
	}
	if err := s.backend.SetSetting(ctx, key, normalized); err != nil {
		return apperr.Persistence("set setting", err)
	}
	slog.Info("setting updated", "key", key, "value", normalized)
	return nil
}

// All returns every known setting with stored values overriding defaults.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.backend.AllSettings(ctx)
	if err != nil {
		return nil, apperr.Persistence("list settings", err)
	}
	out := make(map[string]string, len(definitions))
	for k := range definitions {
		out[k] = s.defaults[k]
		if v, ok := stored[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// AIDebug reports whether LLM prompts and responses are audited.
func (s *Service) AIDebug(ctx context.Context) bool {
	v, _ := strconv.ParseBool(s.lookup(ctx, KeyAIDebug))
	return v
}

// BatchSize is the number of entities processed per job batch.
func (s *Service) BatchSize(ctx context.Context) int {
	return s.intValue(ctx, KeyJobBatchSize)
}

// MaxRetries is the number of failed executions before an action stays failed.
func (s *Service) MaxRetries(ctx context.Context) int {
	return s.intValue(ctx, KeyActionMaxRetries)
}

// AutoExecute reports whether the store allows kind to run without approval.
func (s *Service) AutoExecute(ctx context.Context, kind models.ActionType) bool {
	return containsKind(splitList(s.lookup(ctx, KeyActionAutoExecute)), kind)
}

// Enabled reports whether suggestions of kind may become actions.
// An empty list enables every kind.
func (s *Service) Enabled(ctx context.Context, kind models.ActionType) bool {
	list := splitList(s.lookup(ctx, KeyActionEnabledTypes))
	return len(list) == 0 || containsKind(list, kind)
}

// lookup never fails: a backend error is logged and the default is used.
func (s *Service) lookup(ctx context.Context, key string) string {
	v, ok, err := s.backend.GetSetting(ctx, key)
	if err != nil {
		slog.Warn("reading setting failed, using default", "key", key, "error", err)
		return s.defaults[key]
	}
	if !ok {
		return s.defaults[key]
	}
	return v
}

func (s *Service) intValue(ctx context.Context, key string) int {
	n, err := strconv.Atoi(s.lookup(ctx, key))
	if err != nil || n < definitions[key].min {
		n, _ = strconv.Atoi(s.defaults[key])
	}
	return n
}

func normalize(def definition, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch def.kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%q is not a boolean", value)
		}
		return strconv.FormatBool(b), nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("%q is not an integer", value)
		}
		if n < def.min {
			return "", fmt.Errorf("must be at least %d", def.min)
		}
		return strconv.Itoa(n), nil
	case kindActionList:
		items := splitList(value)
		for _, item := range items {
			if _, ok := models.ParseActionType(item); !ok {
				return "", fmt.Errorf("unknown action type %q", item)
			}
		}
		return strings.Join(items, ","), nil
	}
	return "", fmt.Errorf("unsupported setting")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsKind(list []string, kind models.ActionType) bool {
	for _, item := range list {
		if item == string(kind) {
			return true
		}
	}
	return false
}
