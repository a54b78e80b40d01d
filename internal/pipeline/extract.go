package pipeline

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/pkg/serp"
)

// institutionalTLDs mark hostnames that belong to the organization itself
// rather than an aggregator or directory.
var institutionalTLDs = []string{".edu", ".gov", ".org", ".ac.uk"}

// aggregatorHosts are never the institution's own site.
var aggregatorHosts = []string{
	"linkedin.com", "facebook.com", "wikipedia.org", "crunchbase.com",
	"glassdoor.com", "indeed.com", "yelp.com", "bloomberg.com",
}

// buildSearchQuery concatenates the config's non-empty input field values and
// appends a semantic hint derived from the output field id, so "domain"
// lookups search for the official website rather than news coverage.
func buildSearchQuery(cfg model.EnrichmentConfig, row map[string]string) string {
	var parts []string
	for _, field := range cfg.InputFields {
		if v := strings.TrimSpace(row[field]); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	if hint := queryHint(cfg.Output.Primary()); hint != "" {
		parts = append(parts, hint)
	}
	return strings.Join(parts, " ")
}

func queryHint(outputID string) string {
	id := strings.ToLower(outputID)
	switch {
	case strings.Contains(id, "domain"), strings.Contains(id, "website"), strings.Contains(id, "url"):
		return "official website"
	case strings.Contains(id, "name"):
		return "official name"
	case strings.Contains(id, "industry"):
		return "industry"
	default:
		return ""
	}
}

// extractSearchValue applies the extraction strategy keyed by output field
// id. Strategies prefer structured knowledge-panel data and fall back to
// organic results that plausibly match the institution context from the row.
func extractSearchValue(results *serp.Results, outputID string, row map[string]string) (string, error) {
	if results == nil || (results.KnowledgeGraph == nil && len(results.Organic) == 0) {
		return "", eris.New("pipeline: no search results")
	}

	id := strings.ToLower(outputID)
	switch {
	case strings.Contains(id, "domain"), strings.Contains(id, "website"), strings.Contains(id, "url"):
		return extractDomain(results, row)
	case strings.Contains(id, "name"):
		return extractName(results, row)
	default:
		return "", eris.Errorf("pipeline: no extraction strategy for output %q", outputID)
	}
}

// extractName prefers the knowledge-panel title, falling back to the organic
// result whose title matches the most tokens of the row's institution
// context. A single generic token ("college", "university") is not enough to
// beat a fuller name match, so directory listicles rank below the
// institution's own result.
func extractName(results *serp.Results, row map[string]string) (string, error) {
	if kg := results.KnowledgeGraph; kg != nil && strings.TrimSpace(kg.Title) != "" {
		return strings.TrimSpace(kg.Title), nil
	}

	tokens := contextTokens(row)
	best := -1
	bestMatches := 0
	for i, r := range results.Organic {
		title := strings.ToLower(r.Title)
		matches := 0
		for _, tok := range tokens {
			if strings.Contains(title, tok) {
				matches++
			}
		}
		// Strictly greater: ties keep the earlier (higher-ranked) result.
		if matches > bestMatches {
			best = i
			bestMatches = matches
		}
	}
	if best >= 0 {
		return cleanTitle(results.Organic[best].Title), nil
	}

	if len(results.Organic) > 0 {
		return cleanTitle(results.Organic[0].Title), nil
	}
	return "", eris.New("pipeline: no plausible name in search results")
}

// extractDomain prefers the knowledge-panel website, then an organic link
// with an institutional TLD or a hostname containing a token of the
// institution name, then the first non-aggregator organic hostname.
func extractDomain(results *serp.Results, row map[string]string) (string, error) {
	if kg := results.KnowledgeGraph; kg != nil && kg.Website != "" {
		if host := hostnameOf(kg.Website); host != "" {
			return host, nil
		}
	}

	tokens := contextTokens(row)
	var fallback string
	for _, r := range results.Organic {
		host := hostnameOf(r.Link)
		if host == "" || isAggregator(host) {
			continue
		}
		if fallback == "" {
			fallback = host
		}
		for _, tld := range institutionalTLDs {
			if strings.HasSuffix(host, tld) {
				return host, nil
			}
		}
		for _, tok := range tokens {
			if len(tok) >= 4 && strings.Contains(host, tok) {
				return host, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}
	return "", eris.New("pipeline: no plausible domain in search results")
}

// contextTokens extracts lowercase name tokens from the row's institution
// fields for plausibility matching.
func contextTokens(row map[string]string) []string {
	var tokens []string
	for _, field := range []string{"company", "company_name", "name", "institution"} {
		for _, tok := range strings.Fields(strings.ToLower(row[field])) {
			tok = strings.Trim(tok, ".,&()")
			if len(tok) >= 3 {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

func hostnameOf(link string) string {
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func isAggregator(host string) bool {
	for _, agg := range aggregatorHosts {
		if host == agg || strings.HasSuffix(host, "."+agg) {
			return true
		}
	}
	return false
}

// cleanTitle strips common SERP title suffixes like " - LinkedIn" or
// " | Official Site".
func cleanTitle(title string) string {
	for _, sep := range []string{" - ", " | ", " – "} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
		}
	}
	return strings.TrimSpace(title)
}
