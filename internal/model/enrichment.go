package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ServiceKind names the backing service for an enrichment step.
type ServiceKind string

const (
	ServiceAIModel   ServiceKind = "ai-model"
	ServiceSearchAPI ServiceKind = "search-api"
)

// EnrichmentConfig is a per-account, ordered enrichment step.
type EnrichmentConfig struct {
	ID             string       `json:"id"`
	AccountID      string       `json:"account_id"`
	Name           string       `json:"name"`
	Service        ServiceKind  `json:"service"`
	InputFields    []string     `json:"input_fields"`
	Output         OutputTarget `json:"output"`
	Template       string       `json:"template"`
	Model          string       `json:"model,omitempty"`
	APIKey         string       `json:"api_key,omitempty"`
	SecretName     string       `json:"secret_name,omitempty"`
	Enabled        bool         `json:"enabled"`
	ExecutionOrder int          `json:"execution_order"`
}

// OutputField is one declared output of an enrichment step.
type OutputField struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// OutputTarget is the normalized form of a step's output declaration.
// Stored configs carry either a bare field id or a JSON array of
// {id, type} descriptors; ParseOutputTarget folds both into this one shape
// so nothing downstream re-parses the ambiguity.
type OutputTarget struct {
	Fields []OutputField `json:"fields"`
}

// Primary returns the first declared output field id. Single-value results
// are written there.
func (t OutputTarget) Primary() string {
	if len(t.Fields) == 0 {
		return ""
	}
	return t.Fields[0].ID
}

// IDs returns all declared output field ids in order.
func (t OutputTarget) IDs() []string {
	ids := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		ids = append(ids, f.ID)
	}
	return ids
}

// ParseOutputTarget normalizes a stored output declaration. Accepts a bare
// field id ("domain"), a JSON string ("\"domain\""), or a JSON array
// ([{"id":"domain","type":"text"}]).
func ParseOutputTarget(raw string) (OutputTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return OutputTarget{}, eris.New("model: empty output target")
	}

	if strings.HasPrefix(raw, "[") {
		var fields []OutputField
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return OutputTarget{}, eris.Wrap(err, "model: parse output descriptor array")
		}
		if len(fields) == 0 {
			return OutputTarget{}, eris.New("model: empty output descriptor array")
		}
		for _, f := range fields {
			if f.ID == "" {
				return OutputTarget{}, eris.New("model: output descriptor missing id")
			}
		}
		return OutputTarget{Fields: fields}, nil
	}

	if strings.HasPrefix(raw, `"`) {
		var id string
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return OutputTarget{}, eris.Wrap(err, "model: parse output id")
		}
		raw = id
	}

	return OutputTarget{Fields: []OutputField{{ID: raw}}}, nil
}
