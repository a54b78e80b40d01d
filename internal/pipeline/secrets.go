package pipeline

import (
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/import-cli/internal/model"
)

// SecretResolver looks up named secrets for enrichment backends.
type SecretResolver interface {
	Lookup(name string) (string, bool)
}

// EnvResolver resolves secrets from process environment variables.
type EnvResolver struct{}

func (EnvResolver) Lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	return v, ok && v != ""
}

// providerSecretName maps a service kind to its conventional secret name,
// used as the last resolution step when a config names no key.
func providerSecretName(service model.ServiceKind) string {
	switch service {
	case model.ServiceAIModel:
		return "ANTHROPIC_API_KEY"
	case model.ServiceSearchAPI:
		return "SERP_API_KEY"
	}
	return ""
}

// resolveAPIKey resolves the credential for one enrichment config. Resolution
// order: inline config key, named secret, provider-convention name.
func resolveAPIKey(resolver SecretResolver, cfg model.EnrichmentConfig) (string, error) {
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	if cfg.SecretName != "" {
		if v, ok := resolver.Lookup(cfg.SecretName); ok {
			return v, nil
		}
	}
	if name := providerSecretName(cfg.Service); name != "" {
		if v, ok := resolver.Lookup(name); ok {
			return v, nil
		}
	}
	return "", eris.Wrap(model.ErrConfiguration, "pipeline: no API key for config "+cfg.Name)
}
