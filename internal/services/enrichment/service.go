package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"b2brecon/internal/domain"
	"b2brecon/internal/metrics"
	"b2brecon/internal/normalize"
	"b2brecon/internal/ports"
	"b2brecon/internal/services/registry"
)

// RegistryIndex yields a registry snapshot for the submit-time filter.
type RegistryIndex interface {
	Index(ctx context.Context) (*registry.Index, error)
}

type Options struct {
	// PollInterval is the tick of Follow. Defaults to 2s.
	PollInterval time.Duration
	// MaxIdle stops Follow with ErrPollTimeout when processed has not moved
	// for this long. Zero disables the limit.
	MaxIdle time.Duration
	// MaxNotFound is the number of consecutive not-found polls tolerated.
	MaxNotFound int
}

// Orchestrator submits enrichment batches and reads their state. It never
// spawns goroutines; Follow runs on the caller's goroutine.
type Orchestrator struct {
	backend  ports.EnrichmentBackend
	registry RegistryIndex
	cache    ports.JobCache
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func New(backend ports.EnrichmentBackend, reg RegistryIndex, cache ports.JobCache, opts Options, log *zap.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxNotFound <= 0 {
		opts.MaxNotFound = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{backend: backend, registry: reg, cache: cache, opts: opts, log: log, now: time.Now}
}

// Submit starts a batch for the selected domains that are still unresolved.
// Domains matching the registry or already carrying a tax ID in the run's
// cached results are skipped and counted.
func (o *Orchestrator) Submit(ctx context.Context, runID string, domains []string) (domain.Submission, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Submission{}, domain.Invalid("runId", "required")
	}
	wanted := dedupe(domains)
	if len(wanted) == 0 {
		return domain.Submission{}, domain.Invalid("domains", "empty selection")
	}

	idx, err := o.registry.Index(ctx)
	if err != nil {
		return domain.Submission{}, domain.Transport("load registry", err)
	}
	known := o.knownTaxIDs(ctx, runID)

	sub := domain.Submission{RunID: runID}
	for _, d := range wanted {
		_, isSupplier := idx.Supplier(d)
		if isSupplier || idx.Blacklisted(d) || known[d] {
			sub.Skipped = append(sub.Skipped, d)
			continue
		}
		sub.Submitted = append(sub.Submitted, d)
	}
	if n := len(sub.Skipped); n > 0 {
		metrics.SubmitSkipped.Add(float64(n))
		o.log.Info("skipped resolved domains", zap.String("run_id", runID), zap.Int("skipped", n))
	}
	if len(sub.Submitted) == 0 {
		return sub, domain.Invalid("domains", "every selected domain is already resolved")
	}

	jobID, err := o.backend.SubmitEnrichmentBatch(ctx, runID, sub.Submitted)
	if err != nil {
		return sub, domain.Transport("submit enrichment batch", err)
	}
	sub.JobID = jobID
	metrics.JobsSubmitted.Inc()
	o.log.Info("enrichment submitted",
		zap.String("run_id", runID),
		zap.String("job_id", jobID),
		zap.Int("domains", len(sub.Submitted)))
	return sub, nil
}

func (o *Orchestrator) knownTaxIDs(ctx context.Context, runID string) map[string]bool {
	known := map[string]bool{}
	if o.cache == nil {
		return known
	}
	entry, found, err := o.cache.Load(ctx, runID)
	if err != nil || !found {
		return known
	}
	for d, r := range entry.Results {
		if r.TaxID != "" {
			known[normalize.ExtractRootDomain(d)] = true
		}
	}
	return known
}

func dedupe(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	var out []string
	for _, d := range domains {
		root := normalize.ExtractRootDomain(d)
		if root == "" || seen[root] {
			continue
		}
		seen[root] = true
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// Poll returns the current job state. It does not mutate anything.
func (o *Orchestrator) Poll(ctx context.Context, jobID string) (domain.EnrichmentJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return domain.EnrichmentJob{}, domain.Invalid("jobId", "required")
	}
	job, err := o.backend.GetEnrichmentStatus(ctx, jobID)
	if err != nil {
		return domain.EnrichmentJob{}, domain.Transport("get enrichment status", err)
	}
	return job, nil
}

// Update is delivered to Follow callers after each successful poll.
type Update struct {
	Job     domain.EnrichmentJob
	Results domain.ResultSet
}

// Follow polls jobID until a terminal status, cancellation, or abandonment.
// Results from every snapshot are merged into a copy of seed and handed to
// onUpdate for display and resume hints. The returned job carries only the
// backend's own results; reconciliation must never see seeded entries.
// Transport failures are logged and retried on the next tick. Cancelling ctx
// stops polling only; the job keeps running.
func (o *Orchestrator) Follow(ctx context.Context, jobID string, seed domain.ResultSet, onUpdate func(Update)) (domain.EnrichmentJob, error) {
	results := seed.Clone()
	var last domain.EnrichmentJob
	lastProcessed := -1
	lastProgress := o.now()
	notFound := 0

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		job, err := o.backend.GetEnrichmentStatus(ctx, jobID)
		switch {
		case err == nil:
			notFound = 0
			for _, r := range job.Results {
				results.Merge(r)
			}
			if job.Results == nil {
				job.Results = domain.ResultSet{}
			}
			last = job
			if job.Processed > lastProcessed {
				lastProcessed = job.Processed
				lastProgress = o.now()
			}
			if onUpdate != nil {
				onUpdate(Update{Job: job, Results: results.Clone()})
			}
			switch job.Status {
			case domain.JobCompleted:
				return job, nil
			case domain.JobFailed:
				return job, fmt.Errorf("%w: job %s: %s", domain.ErrJobFailed, jobID, job.Error)
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		case errors.Is(err, domain.ErrNotFound):
			notFound++
			metrics.PollErrors.WithLabelValues("not_found").Inc()
			o.log.Debug("job not visible yet", zap.String("job_id", jobID), zap.Int("attempt", notFound))
			if notFound > o.opts.MaxNotFound {
				return last, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
			}
		default:
			metrics.PollErrors.WithLabelValues("transport").Inc()
			o.log.Warn("poll failed, retrying", zap.String("job_id", jobID), zap.Error(err))
		}

		if o.opts.MaxIdle > 0 && o.now().Sub(lastProgress) >= o.opts.MaxIdle {
			return last, fmt.Errorf("job %s: no progress for %s: %w", jobID, o.opts.MaxIdle, domain.ErrPollTimeout)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
