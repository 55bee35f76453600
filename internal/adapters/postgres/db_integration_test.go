package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"b2brecon/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("DB_TEST_DSN")
	if dsn == "" {
		t.Skip("DB_TEST_DSN not set; skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := Connect(ctx, dsn)
	if err != nil {
		t.Skipf("skipping integration test; cannot connect to DB: %v", err)
	}
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return db
}

func uniq(prefix string) string { return prefix + "-" + uuid.NewString()[:8] }

func TestRunsRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	runID := uniq("run")

	ok, err := db.RunExists(ctx, runID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.EnsureRun(ctx, runID))
	require.NoError(t, db.EnsureRun(ctx, runID))
	now := time.Now().UTC().Truncate(time.Millisecond)
	n, err := db.AppendURLs(ctx, runID, []domain.URLEntry{
		{URL: "https://a.example.ru/x", Source: domain.SourceGoogle, ObservedAt: now},
		{URL: "https://b.example.ru/", ObservedAt: now},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	urls, err := db.ListURLs(ctx, runID)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, "https://a.example.ru/x", urls[0].URL)
	assert.Equal(t, domain.SourceGoogle, urls[0].Source)
	assert.Equal(t, domain.Source(""), urls[1].Source)

	_, err = db.SourceLog(ctx, runID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, db.SaveSourceLog(ctx, runID, domain.SourceYandex, []string{"https://b.example.ru/"}))
	log, err := db.SourceLog(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example.ru/"}, log.LastLinks[domain.SourceYandex])
}

func TestSupplierUniqueRootDomain(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	root := uniq("acme") + ".ru"
	capital := 10000.0

	s, err := db.CreateSupplier(ctx, domain.SupplierFields{
		Name: "ACME", Domain: root, TaxID: "7707083893", Email: "info@" + root,
		Metadata: &domain.CompanyMetadata{OGRN: "1027700132195", CompanyStatus: "Действует", AuthorizedCapital: &capital},
	})
	require.NoError(t, err)
	assert.NotZero(t, s.ID)
	assert.Equal(t, domain.SupplierTypeSupplier, s.Type)
	require.NotNil(t, s.Metadata)
	assert.Equal(t, "1027700132195", s.Metadata.OGRN)

	_, err = db.CreateSupplier(ctx, domain.SupplierFields{Name: "dup", Domain: root})
	assert.ErrorIs(t, err, domain.ErrConflict)

	list, total, err := db.ListSuppliers(ctx, 1000, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	assert.NotEmpty(t, list)
}

func TestBlacklistUpsert(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	root := uniq("spam") + ".com"

	require.NoError(t, db.AddToBlacklist(ctx, domain.BlacklistEntry{Domain: root, Reason: "first"}))
	require.NoError(t, db.AddToBlacklist(ctx, domain.BlacklistEntry{Domain: root, Reason: "second"}))

	entries, _, err := db.ListBlacklist(ctx, 10000, 0)
	require.NoError(t, err)
	var found *domain.BlacklistEntry
	for i := range entries {
		if entries[i].Domain == root {
			found = &entries[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "second", found.Reason)
}

func TestJobLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	runID := uniq("run")
	require.NoError(t, db.EnsureRun(ctx, runID))

	_, err := db.GetEnrichmentStatus(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = db.GetEnrichmentStatus(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	jobID, err := db.SubmitEnrichmentBatch(ctx, runID, []string{"a.ru", "b.ru"})
	require.NoError(t, err)

	job, err := db.GetEnrichmentStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, job.Status)
	assert.Equal(t, 2, job.Total)

	// Other tests may leave queued jobs; drain until ours is claimed.
	var claimed bool
	for i := 0; i < 100 && !claimed; i++ {
		task, found, err := db.ClaimNext(ctx)
		require.NoError(t, err)
		require.True(t, found)
		claimed = task.JobID == jobID
	}
	require.True(t, claimed)

	require.NoError(t, db.SetCurrentDomain(ctx, jobID, "a.ru"))
	require.NoError(t, db.RecordResult(ctx, jobID, domain.EnrichmentResult{Domain: "a.ru", TaxID: "7707083893", Emails: []string{"x@a.ru"}}))
	require.NoError(t, db.RecordResult(ctx, jobID, domain.EnrichmentResult{Domain: "a.ru", TaxID: "7707083893", Emails: []string{"y@a.ru"}}))
	require.NoError(t, db.RecordResult(ctx, jobID, domain.EnrichmentResult{Domain: "b.ru", Error: "unreachable"}))

	job, err = db.GetEnrichmentStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Processed)
	assert.Equal(t, "a.ru", job.CurrentDomain)
	assert.Equal(t, []string{"y@a.ru"}, job.Results["a.ru"].Emails)
	assert.Equal(t, "unreachable", job.Results["b.ru"].Error)

	require.NoError(t, db.MarkCompleted(ctx, jobID))
	job, err = db.GetEnrichmentStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Empty(t, job.CurrentDomain)
}

func TestSubmitUnknownRun(t *testing.T) {
	db := testDB(t)
	_, err := db.SubmitEnrichmentBatch(context.Background(), uniq("missing"), []string{"a.ru"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLearningLedger(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	runID := uniq("run")
	path := "/" + uniq("rekvizity")
	now := time.Now().UTC()

	require.NoError(t, db.Append(ctx, []domain.LearnedPattern{
		{RunID: runID, Domain: "a.ru", Kind: domain.PatternTaxID, Value: "7707083893", SourceURL: "https://a.ru" + path, URLPattern: path, Origin: domain.OriginManual, LearnedAt: now},
		{RunID: runID, Domain: "b.ru", Kind: domain.PatternTaxID, Value: "7736207543", SourceURL: "https://b.ru" + path, URLPattern: path, Origin: domain.OriginExternal, LearnedAt: now},
	}))

	ok, err := db.Exists(ctx, "a.ru", "7707083893", "https://a.ru"+path)
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := db.Statistics(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.LearningStatistics{TotalLearned: 2, ExternalContributions: 1}, st)

	patterns, err := db.URLPatterns(ctx, 1000)
	require.NoError(t, err)
	assert.Contains(t, patterns, path)
}
