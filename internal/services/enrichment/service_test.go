package enrichment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"b2brecon/internal/domain"
	"b2brecon/internal/services/registry"
)

type step struct {
	job domain.EnrichmentJob
	err error
}

type scriptedBackend struct {
	mu        sync.Mutex
	steps     []step
	polls     int
	submitted [][]string
	submitErr error
}

func (b *scriptedBackend) SubmitEnrichmentBatch(_ context.Context, _ string, domains []string) (string, error) {
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.submitted = append(b.submitted, domains)
	return "job-1", nil
}

func (b *scriptedBackend) GetEnrichmentStatus(context.Context, string) (domain.EnrichmentJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.polls
	if i >= len(b.steps) {
		i = len(b.steps) - 1
	}
	b.polls++
	s := b.steps[i]
	return s.job, s.err
}

type staticIndex struct{ idx *registry.Index }

func (s staticIndex) Index(context.Context) (*registry.Index, error) { return s.idx, nil }

type memCache struct {
	entries map[string]domain.CachedJob
}

func (m *memCache) Save(_ context.Context, runID string, e domain.CachedJob) error {
	m.entries[runID] = e
	return nil
}

func (m *memCache) Load(_ context.Context, runID string) (domain.CachedJob, bool, error) {
	e, ok := m.entries[runID]
	return e, ok, nil
}

func (m *memCache) Delete(_ context.Context, runID string) error {
	delete(m.entries, runID)
	return nil
}

func (m *memCache) Runs(context.Context) ([]string, error) { return nil, nil }

func running(processed, total int, results ...domain.EnrichmentResult) step {
	rs := domain.ResultSet{}
	rs.Merge(results...)
	return step{job: domain.EnrichmentJob{JobID: "job-1", Status: domain.JobRunning, Processed: processed, Total: total, Results: rs}}
}

func newOrch(b *scriptedBackend) *Orchestrator {
	idx := registry.NewIndex(nil, nil)
	return New(b, staticIndex{idx}, nil, Options{PollInterval: time.Millisecond, MaxNotFound: 3}, nil)
}

func TestFollow_MergeMonotonic(t *testing.T) {
	a := domain.EnrichmentResult{Domain: "a.com", TaxID: "1", Emails: []string{"x@a.com"}}
	bv1 := domain.EnrichmentResult{Domain: "b.com", Error: "timeout"}
	bv2 := domain.EnrichmentResult{Domain: "b.com", TaxID: "2", Emails: []string{"y@b.com"}}
	c := domain.EnrichmentResult{Domain: "c.com"}

	completed := running(3, 3, bv2, c)
	completed.job.Status = domain.JobCompleted
	b := &scriptedBackend{steps: []step{
		running(0, 3),
		running(1, 3, a),
		// Snapshot omits a.com; it must stay visible.
		running(2, 3, bv1),
		completed,
	}}

	var counts []int
	var merged domain.ResultSet
	job, err := newOrch(b).Follow(context.Background(), "job-1", nil, func(u Update) {
		counts = append(counts, len(u.Results))
		merged = u.Results
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, []int{0, 1, 2, 3}, counts)
	for i := 1; i < len(counts); i++ {
		assert.GreaterOrEqual(t, counts[i], counts[i-1])
	}
	assert.Equal(t, "2", merged["b.com"].TaxID, "repeated key takes latest")
	assert.Contains(t, merged, "a.com")
	// The returned job is the final snapshot, not the merged view.
	assert.Equal(t, completed.job.Results, job.Results)
}

func TestFollow_SeedIsKept(t *testing.T) {
	done := running(1, 1)
	done.job.Status = domain.JobCompleted
	b := &scriptedBackend{steps: []step{done}}
	seed := domain.ResultSet{"old.com": {Domain: "old.com", TaxID: "9"}}

	var merged domain.ResultSet
	job, err := newOrch(b).Follow(context.Background(), "job-1", seed, func(u Update) { merged = u.Results })
	require.NoError(t, err)
	assert.Contains(t, merged, "old.com")
	assert.NotContains(t, job.Results, "old.com", "seeded results stay out of the job")
	merged["new.com"] = domain.EnrichmentResult{}
	assert.NotContains(t, seed, "new.com", "seed must not be mutated")
}

func TestFollow_TransportErrorIsRetried(t *testing.T) {
	done := running(1, 1, domain.EnrichmentResult{Domain: "a.com"})
	done.job.Status = domain.JobCompleted
	b := &scriptedBackend{steps: []step{
		{err: &domain.TransportError{Op: "get", Err: errors.New("connection reset")}},
		{err: errors.New("i/o timeout")},
		done,
	}}
	job, err := newOrch(b).Follow(context.Background(), "job-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 3, b.polls)
}

func TestFollow_FailedStatusTerminates(t *testing.T) {
	failed := running(1, 2)
	failed.job.Status = domain.JobFailed
	failed.job.Error = "worker crashed"
	b := &scriptedBackend{steps: []step{running(0, 2), failed}}

	job, err := newOrch(b).Follow(context.Background(), "job-1", nil, nil)
	require.ErrorIs(t, err, domain.ErrJobFailed)
	assert.Contains(t, err.Error(), "worker crashed")
	assert.Equal(t, domain.JobFailed, job.Status)
}

func TestFollow_NotFoundToleratedThenSurfaced(t *testing.T) {
	done := running(0, 0)
	done.job.Status = domain.JobCompleted
	b := &scriptedBackend{steps: []step{
		{err: domain.ErrNotFound},
		{err: domain.ErrNotFound},
		done,
	}}
	_, err := newOrch(b).Follow(context.Background(), "job-1", nil, nil)
	require.NoError(t, err)

	b = &scriptedBackend{steps: []step{{err: domain.ErrNotFound}}}
	_, err = newOrch(b).Follow(context.Background(), "job-1", nil, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 4, b.polls)
}

func TestFollow_Cancellation(t *testing.T) {
	b := &scriptedBackend{steps: []step{running(0, 5)}}
	ctx, cancel := context.WithCancel(context.Background())
	updates := 0
	_, err := newOrch(b).Follow(ctx, "job-1", nil, func(Update) {
		updates++
		if updates == 3 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, updates)
}

func TestFollow_IdleTimeout(t *testing.T) {
	b := &scriptedBackend{steps: []step{running(1, 5)}}
	o := newOrch(b)
	o.opts.MaxIdle = time.Minute
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time {
		clock = clock.Add(20 * time.Second)
		return clock
	}
	_, err := o.Follow(context.Background(), "job-1", nil, nil)
	require.ErrorIs(t, err, domain.ErrPollTimeout)
}

func TestSubmit_SkipsResolved(t *testing.T) {
	b := &scriptedBackend{}
	idx := registry.NewIndex(
		[]domain.Supplier{{ID: 1, Domain: "known.com"}},
		[]domain.BlacklistEntry{{Domain: "spam.com"}},
	)
	cache := &memCache{entries: map[string]domain.CachedJob{
		"run-1": {JobID: "old", Results: domain.ResultSet{"taxed.com": {Domain: "taxed.com", TaxID: "7707083893"}}},
	}}
	o := New(b, staticIndex{idx}, cache, Options{}, nil)

	sub, err := o.Submit(context.Background(), "run-1", []string{"https://www.New.com/x", "new.com", "known.com", "spam.com", "taxed.com", ""})
	require.NoError(t, err)
	assert.Equal(t, "job-1", sub.JobID)
	assert.Equal(t, []string{"new.com"}, sub.Submitted)
	assert.ElementsMatch(t, []string{"known.com", "spam.com", "taxed.com"}, sub.Skipped)
	require.Len(t, b.submitted, 1)
	assert.Equal(t, []string{"new.com"}, b.submitted[0])
}

func TestSubmit_Validation(t *testing.T) {
	b := &scriptedBackend{}
	o := newOrch(b)

	_, err := o.Submit(context.Background(), "run-1", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = o.Submit(context.Background(), "", []string{"a.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	o.registry = staticIndex{registry.NewIndex([]domain.Supplier{{Domain: "a.com"}}, nil)}
	_, err = o.Submit(context.Background(), "run-1", []string{"a.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, b.submitted, "no network call after validation failure")
}

func TestSubmit_TransportSurfaced(t *testing.T) {
	b := &scriptedBackend{submitErr: errors.New("dial tcp: refused")}
	_, err := newOrch(b).Submit(context.Background(), "run-1", []string{"a.com"})
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestPoll_IsReadOnly(t *testing.T) {
	b := &scriptedBackend{steps: []step{running(1, 2, domain.EnrichmentResult{Domain: "a.com"})}}
	o := newOrch(b)
	first, err := o.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	second, err := o.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = o.Poll(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPoll_NotFoundKeepsClassification(t *testing.T) {
	b := &scriptedBackend{steps: []step{{err: domain.ErrNotFound}}}
	_, err := newOrch(b).Poll(context.Background(), "job-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrTransport)
}
