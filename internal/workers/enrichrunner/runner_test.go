package enrichrunner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"b2brecon/internal/domain"
	"b2brecon/internal/ports"
)

type fakeQueue struct {
	mu        sync.Mutex
	pending   []ports.EnrichmentTask
	current   map[string]string
	results   map[string][]domain.EnrichmentResult
	completed []string
	failed    map[string]string
	recordErr error
}

func newFakeQueue(tasks ...ports.EnrichmentTask) *fakeQueue {
	return &fakeQueue{
		pending: tasks,
		current: map[string]string{},
		results: map[string][]domain.EnrichmentResult{},
		failed:  map[string]string{},
	}
}

func (q *fakeQueue) ClaimNext(context.Context) (ports.EnrichmentTask, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return ports.EnrichmentTask{}, false, nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true, nil
}

func (q *fakeQueue) SetCurrentDomain(_ context.Context, jobID, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current[jobID] = name
	return nil
}

func (q *fakeQueue) RecordResult(_ context.Context, jobID string, r domain.EnrichmentResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.recordErr != nil {
		return q.recordErr
	}
	q.results[jobID] = append(q.results[jobID], r)
	return nil
}

func (q *fakeQueue) MarkCompleted(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, jobID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = reason
	return nil
}

func (q *fakeQueue) doneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed) + len(q.failed)
}

type stubProcessor struct {
	byDomain map[string]domain.EnrichmentResult
	onCall   func(string)
}

func (p stubProcessor) Process(_ context.Context, name string) domain.EnrichmentResult {
	if p.onCall != nil {
		p.onCall(name)
	}
	r, ok := p.byDomain[name]
	if !ok {
		return domain.EnrichmentResult{Domain: name, Error: "unreachable"}
	}
	return r
}

func TestProcessInline_RecordsEveryDomain(t *testing.T) {
	q := newFakeQueue()
	proc := stubProcessor{byDomain: map[string]domain.EnrichmentResult{
		"acme.ru": {Domain: "ACME.ru", TaxID: "7707083893", Emails: []string{"info@acme.ru"}},
	}}
	task := ports.EnrichmentTask{JobID: "job-1", RunID: "run-1", Domains: []string{"acme.ru", "down.ru"}}

	require.NoError(t, ProcessInline(context.Background(), q, proc, task, nil))

	require.Len(t, q.results["job-1"], 2)
	assert.Equal(t, "acme.ru", q.results["job-1"][0].Domain)
	assert.True(t, q.results["job-1"][0].IsPromotable())
	assert.Equal(t, "unreachable", q.results["job-1"][1].Error)
	assert.Equal(t, "down.ru", q.current["job-1"])
	assert.Equal(t, []string{"job-1"}, q.completed)
}

func TestProcessInline_StoreFailureFailsJob(t *testing.T) {
	q := newFakeQueue()
	q.recordErr = errors.New("connection reset")
	task := ports.EnrichmentTask{JobID: "job-1", Domains: []string{"acme.ru"}}

	err := ProcessInline(context.Background(), q, stubProcessor{}, task, nil)
	require.Error(t, err)
	assert.Contains(t, q.failed["job-1"], "connection reset")
	assert.Empty(t, q.completed)
}

func TestProcessInline_CancelLeavesJobRunning(t *testing.T) {
	q := newFakeQueue()
	ctx, cancel := context.WithCancel(context.Background())
	proc := stubProcessor{onCall: func(string) { cancel() }}
	task := ports.EnrichmentTask{JobID: "job-1", Domains: []string{"a.ru", "b.ru"}}

	err := ProcessInline(ctx, q, proc, task, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, q.completed)
	assert.Empty(t, q.failed)
	assert.Empty(t, q.results["job-1"])
}

func TestRun_DrainsQueue(t *testing.T) {
	q := newFakeQueue(
		ports.EnrichmentTask{JobID: "j1", Domains: []string{"a.ru"}},
		ports.EnrichmentTask{JobID: "j2", Domains: []string{"b.ru", "c.ru"}},
		ports.EnrichmentTask{JobID: "j3", Domains: []string{"d.ru"}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	Run(ctx, q, stubProcessor{}, 2, 5*time.Millisecond, nil)

	require.Eventually(t, func() bool { return q.doneCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.ElementsMatch(t, []string{"j1", "j2", "j3"}, q.completed)
	assert.Len(t, q.results["j2"], 2)
}

func TestRun_ZeroConcurrencyIsNoop(t *testing.T) {
	q := newFakeQueue(ports.EnrichmentTask{JobID: "j1"})
	Run(context.Background(), q, stubProcessor{}, 0, time.Millisecond, nil)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, q.doneCount())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "error", outcome(domain.EnrichmentResult{Error: "x", TaxID: "7707083893"}))
	assert.Equal(t, "promotable", outcome(domain.EnrichmentResult{TaxID: "7707083893", Emails: []string{"a@b.ru"}}))
	assert.Equal(t, "partial", outcome(domain.EnrichmentResult{TaxID: "7707083893"}))
	assert.Equal(t, "empty", outcome(domain.EnrichmentResult{}))
}
