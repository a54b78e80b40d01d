// Package rules executes per-account transform and validate rules against
// row fields. Rule bodies are a closed set of built-in operations plus a
// sandboxed Starlark escape hatch for account-authored rules; a broken rule
// is never allowed to abort an import.
package rules

import (
	"sort"
	"sync"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/sells-group/import-cli/internal/model"
)

// Outcome is one validator's verdict for a field value.
type Outcome struct {
	RuleID  string `json:"rule_id"`
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// Engine runs rules. Safe for concurrent use; compiled Starlark bodies are
// cached per rule.
type Engine struct {
	mu       sync.Mutex
	compiled map[string]*starlark.Function
}

// NewEngine creates a rule engine.
func NewEngine() *Engine {
	return &Engine{compiled: make(map[string]*starlark.Function)}
}

// ApplyTransforms runs every enabled transform rule targeting field, in
// display order, threading the value through. A rule that fails is a no-op
// transform: the value passes through unchanged and the failure is logged.
func (e *Engine) ApplyTransforms(rules []model.Rule, field, value string, row map[string]string) string {
	for _, r := range selectRules(rules, model.RuleKindTransform, field) {
		next, err := e.runTransform(r, field, value, row)
		if err != nil {
			zap.L().Warn("rules: transform failed, value passed through",
				zap.String("rule", r.ID),
				zap.String("field", field),
				zap.Error(err),
			)
			continue
		}
		value = next
	}
	return value
}

// ApplyValidators runs every enabled validate rule targeting field, in
// display order. Callers run transforms first; a later transform changing
// what a validator sees is intentional. A validator that fails to execute
// reports valid — rule breakage must not fail rows.
func (e *Engine) ApplyValidators(rules []model.Rule, field, value string, row map[string]string) []Outcome {
	var outcomes []Outcome
	for _, r := range selectRules(rules, model.RuleKindValidate, field) {
		valid, message, err := e.runValidator(r, field, value, row)
		if err != nil {
			zap.L().Warn("rules: validator failed, treating as valid",
				zap.String("rule", r.ID),
				zap.String("field", field),
				zap.Error(err),
			)
			outcomes = append(outcomes, Outcome{RuleID: r.ID, Valid: true})
			continue
		}
		outcomes = append(outcomes, Outcome{RuleID: r.ID, Valid: valid, Message: message})
	}
	return outcomes
}

func (e *Engine) runTransform(r model.Rule, field, value string, row map[string]string) (string, error) {
	if r.Op == opCustom {
		return e.customTransform(r, field, value, copyRow(row))
	}
	fn, ok := transforms[r.Op]
	if !ok {
		return "", errUnknownOp(r.Op)
	}
	return fn(value, field, copyRow(row), r.Params)
}

func (e *Engine) runValidator(r model.Rule, field, value string, row map[string]string) (bool, string, error) {
	if r.Op == opCustom {
		return e.customValidate(r, field, value, copyRow(row))
	}
	fn, ok := validators[r.Op]
	if !ok {
		return false, "", errUnknownOp(r.Op)
	}
	return fn(value, field, copyRow(row), r.Params)
}

// selectRules filters to enabled rules of the given kind targeting field and
// orders them by display order. Sort is stable so equal orders keep their
// stored sequence.
func selectRules(rules []model.Rule, kind model.RuleKind, field string) []model.Rule {
	var selected []model.Rule
	for _, r := range rules {
		if r.Enabled && r.Kind == kind && r.Targets(field) {
			selected = append(selected, r)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].DisplayOrder < selected[j].DisplayOrder
	})
	return selected
}

// copyRow hands rule bodies their own view of the row so a misbehaving rule
// cannot reach into unrelated fields and mutate them.
func copyRow(row map[string]string) map[string]string {
	cp := make(map[string]string, len(row))
	for k, v := range row {
		cp[k] = v
	}
	return cp
}
