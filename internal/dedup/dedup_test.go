package dedup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/import-cli/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "dedup.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestDeriveKey(t *testing.T) {
	t.Run("ContactKeysOnEmail", func(t *testing.T) {
		key := DeriveKey(model.ObjectTypeContact, map[string]string{"email": "  A@B.com ", "name": "Alice"})
		assert.Equal(t, "a@b.com", key)
	})

	t.Run("CompanyPrefersDomain", func(t *testing.T) {
		key := DeriveKey(model.ObjectTypeCompany, map[string]string{"domain": "Foo.com", "name": "Foo Inc"})
		assert.Equal(t, "foo.com", key)
	})

	t.Run("CompanyFallsBackToName", func(t *testing.T) {
		key := DeriveKey(model.ObjectTypeCompany, map[string]string{"name": " Foo Inc "})
		assert.Equal(t, "foo inc", key)
	})

	t.Run("NoKeyDerivable", func(t *testing.T) {
		assert.Empty(t, DeriveKey(model.ObjectTypeContact, map[string]string{"name": "Alice"}))
		assert.Empty(t, DeriveKey(model.ObjectTypeCompany, map[string]string{"industry": "Software"}))
	})
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateThenUpdateMergesRightBiased", func(t *testing.T) {
		s := newTestStore(t)

		first, action, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com", "company": "Old"}, "")
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, action)

		second, action, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com", "title": "VP"}, "")
		require.NoError(t, err)
		assert.Equal(t, ActionUpdated, action)
		assert.Equal(t, first.ID, second.ID, "same key merges into one record")
		assert.Equal(t, "Old", second.Properties["company"], "absent fields are preserved")
		assert.Equal(t, "VP", second.Properties["title"])

		// Incoming wins per-field.
		third, _, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com", "company": "New"}, "")
		require.NoError(t, err)
		assert.Equal(t, "New", third.Properties["company"])
	})

	t.Run("KeyDerivationIsCaseInsensitive", func(t *testing.T) {
		s := newTestStore(t)

		first, _, err := s.Upsert(ctx, "acct-1", model.ObjectTypeCompany,
			map[string]string{"domain": "Foo.com", "name": "Foo Inc"}, "")
		require.NoError(t, err)

		second, action, err := s.Upsert(ctx, "acct-1", model.ObjectTypeCompany,
			map[string]string{"domain": "foo.com", "name": "Different"}, "")
		require.NoError(t, err)
		assert.Equal(t, ActionUpdated, action)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("NoKeyAlwaysCreates", func(t *testing.T) {
		s := newTestStore(t)

		first, action, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"name": "Alice"}, "")
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, action)

		second, action, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"name": "Alice"}, "")
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, action)
		assert.NotEqual(t, first.ID, second.ID, "keyless records never merge")
	})

	t.Run("AccountsAreIsolated", func(t *testing.T) {
		s := newTestStore(t)

		first, _, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com"}, "")
		require.NoError(t, err)

		second, action, err := s.Upsert(ctx, "acct-2", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com"}, "")
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, action)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("ExternalIDOnlyWrittenWhenSupplied", func(t *testing.T) {
		s := newTestStore(t)

		_, _, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com"}, "003abc")
		require.NoError(t, err)

		// An upsert without an external id must not clear the stored one.
		rec, _, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com", "title": "VP"}, "")
		require.NoError(t, err)
		assert.Equal(t, "003abc", rec.ExternalID)
		require.NotNil(t, rec.SyncedAt)
	})

	t.Run("UpsertRefreshesExpiry", func(t *testing.T) {
		s := newTestStore(t)

		first, _, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com"}, "")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		second, _, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
			map[string]string{"email": "a@b.com"}, "")
		require.NoError(t, err)
		assert.True(t, second.ExpiresAt.After(first.ExpiresAt), "sliding expiry moves forward")
	})
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, _, err := s.Upsert(ctx, "acct-1", model.ObjectTypeContact,
		map[string]string{"email": "keep@b.com"}, "")
	require.NoError(t, err)

	// Purge finds nothing while everything is inside the retention window.
	n, err := s.PurgeExpired(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := s.Get(ctx, "acct-1", model.ObjectTypeContact, "keep@b.com")
	require.NoError(t, err)
	assert.Equal(t, "keep@b.com", rec.Properties["email"])
}
