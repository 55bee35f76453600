package badgercache

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"b2brecon/internal/domain"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func putRaw(c *Cache, runID string, val []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(runID), val)
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	entry := domain.CachedJob{
		JobID:   "job-1",
		Results: domain.ResultSet{"a.com": {Domain: "a.com", TaxID: "7707083893", Emails: []string{"x@a.com"}}},
	}
	require.NoError(t, c.Save(ctx, "run-1", entry))

	got, found, err := c.Load(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "7707083893", got.Results["a.com"].TaxID)
	assert.False(t, got.SavedAt.IsZero())
}

func TestReconciledMarkerPersists(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	require.NoError(t, c.Save(ctx, "run-1", domain.CachedJob{JobID: "job-1"}))
	got, _, err := c.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, got.Reconciled)

	require.NoError(t, c.Save(ctx, "run-1", domain.CachedJob{JobID: "job-1", Reconciled: true}))
	got, found, err := c.Load(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Reconciled)
}

func TestRunsAreNamespaced(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	require.NoError(t, c.Save(ctx, "run-1", domain.CachedJob{JobID: "job-1"}))
	require.NoError(t, c.Save(ctx, "run-2", domain.CachedJob{JobID: "job-2"}))

	one, _, err := c.Load(ctx, "run-1")
	require.NoError(t, err)
	two, _, err := c.Load(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, "job-1", one.JobID)
	assert.Equal(t, "job-2", two.JobID)

	runs, err := c.Runs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, runs)
}

func TestMissingIsMiss(t *testing.T) {
	c := openTemp(t)
	_, found, err := c.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCorruptEntryIsMissAndRemoved(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	require.NoError(t, putRaw(c, "run-1", []byte("{not json")))
	require.NoError(t, putRaw(c, "run-2", []byte("")))

	for _, runID := range []string{"run-1", "run-2"} {
		_, found, err := c.Load(ctx, runID)
		require.NoError(t, err)
		assert.False(t, found, runID)
	}
	runs, err := c.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDelete(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	require.NoError(t, c.Save(ctx, "run-1", domain.CachedJob{JobID: "job-1"}))
	require.NoError(t, c.Delete(ctx, "run-1"))
	_, found, err := c.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveRequiresRun(t *testing.T) {
	c := openTemp(t)
	assert.ErrorIs(t, c.Save(context.Background(), "", domain.CachedJob{JobID: "j"}), domain.ErrValidation)
}
