package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputTarget(t *testing.T) {
	t.Run("BareString", func(t *testing.T) {
		target, err := ParseOutputTarget("domain")
		require.NoError(t, err)
		assert.Equal(t, "domain", target.Primary())
		assert.Equal(t, []string{"domain"}, target.IDs())
	})

	t.Run("JSONString", func(t *testing.T) {
		target, err := ParseOutputTarget(`"company_name"`)
		require.NoError(t, err)
		assert.Equal(t, "company_name", target.Primary())
	})

	t.Run("DescriptorArray", func(t *testing.T) {
		target, err := ParseOutputTarget(`[{"id":"domain","type":"text"},{"id":"industry","type":"text"}]`)
		require.NoError(t, err)
		assert.Equal(t, "domain", target.Primary())
		assert.Equal(t, []string{"domain", "industry"}, target.IDs())
		assert.Equal(t, "text", target.Fields[0].Type)
	})

	t.Run("WhitespaceTrimmed", func(t *testing.T) {
		target, err := ParseOutputTarget("  domain  ")
		require.NoError(t, err)
		assert.Equal(t, "domain", target.Primary())
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := ParseOutputTarget("")
		require.Error(t, err)
	})

	t.Run("EmptyArray", func(t *testing.T) {
		_, err := ParseOutputTarget("[]")
		require.Error(t, err)
	})

	t.Run("DescriptorMissingID", func(t *testing.T) {
		_, err := ParseOutputTarget(`[{"type":"text"}]`)
		require.Error(t, err)
	})

	t.Run("MalformedArray", func(t *testing.T) {
		_, err := ParseOutputTarget(`[{"id":`)
		require.Error(t, err)
	})
}

func TestRowMergeEnriched(t *testing.T) {
	t.Run("AdditiveNeverOverwrites", func(t *testing.T) {
		row := Row{Enriched: map[string]string{"domain": "foo.com"}}
		row.MergeEnriched(map[string]string{"domain": "bar.com", "industry": "Software"})

		assert.Equal(t, "foo.com", row.Enriched["domain"])
		assert.Equal(t, "Software", row.Enriched["industry"])
	})

	t.Run("EmptyValuesIgnored", func(t *testing.T) {
		row := Row{}
		row.MergeEnriched(map[string]string{"domain": ""})
		assert.Empty(t, row.Enriched["domain"])
	})

	t.Run("NilMapInitialized", func(t *testing.T) {
		row := Row{}
		row.MergeEnriched(map[string]string{"domain": "foo.com"})
		assert.Equal(t, "foo.com", row.Enriched["domain"])
	})
}

func TestRowFieldAndMerged(t *testing.T) {
	row := Row{
		Raw:      map[string]string{"company": "Acme", "domain": "old.com"},
		Enriched: map[string]string{"domain": "acme.com"},
	}

	assert.Equal(t, "acme.com", row.Field("domain"), "enriched overlay wins")
	assert.Equal(t, "Acme", row.Field("company"))

	merged := row.Merged()
	assert.Equal(t, "acme.com", merged["domain"])
	assert.Equal(t, "Acme", merged["company"])
}

func TestSessionStatusTerminal(t *testing.T) {
	assert.True(t, SessionStatusExpired.Terminal())
	// Failed sessions can re-enter enriching within the retry budget.
	assert.False(t, SessionStatusFailed.Terminal())
	// Completed is not terminal either: retention can still expire it.
	assert.False(t, SessionStatusCompleted.Terminal())
	assert.False(t, SessionStatusEnriching.Terminal())
}
