package model

// RuleKind distinguishes transform rules from validate rules.
type RuleKind string

const (
	RuleKindTransform RuleKind = "transform"
	RuleKindValidate  RuleKind = "validate"
)

// DefaultAccountID is the template account whose rule set is inherited by
// accounts with no rules of their own.
const DefaultAccountID = "default"

// Rule is a per-account, ordered field operation. Op names one of the
// built-in operations registered by the rules package, or "custom", in which
// case Script carries a Starlark function body.
type Rule struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Kind         RuleKind          `json:"kind"`
	Fields       []string          `json:"fields"`
	Op           string            `json:"op"`
	Params       map[string]string `json:"params,omitempty"`
	Script       string            `json:"script,omitempty"`
	DisplayOrder int               `json:"display_order"`
	Enabled      bool              `json:"enabled"`
}

// Targets reports whether the rule applies to the named field.
func (r *Rule) Targets(field string) bool {
	for _, f := range r.Fields {
		if f == field {
			return true
		}
	}
	return false
}
