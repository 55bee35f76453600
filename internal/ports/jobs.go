package ports

import (
	"context"

	"b2brecon/internal/domain"
)

// EnrichmentBackend is the job-submission side of the enrichment service.
type EnrichmentBackend interface {
	SubmitEnrichmentBatch(ctx context.Context, runID string, domains []string) (jobID string, err error)
	// GetEnrichmentStatus returns domain.ErrNotFound for unknown or expired jobs.
	GetEnrichmentStatus(ctx context.Context, jobID string) (domain.EnrichmentJob, error)
}

type EnrichmentTask struct {
	JobID   string
	RunID   string
	Domains []string
}

// JobQueue supports claiming and updating enrichment jobs on the server side.
type JobQueue interface {
	ClaimNext(ctx context.Context) (task EnrichmentTask, found bool, err error)
	SetCurrentDomain(ctx context.Context, jobID, domainName string) error
	RecordResult(ctx context.Context, jobID string, result domain.EnrichmentResult) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}

// JobCache is the advisory, per-run resume hint. A corrupt entry reads as a miss.
type JobCache interface {
	Save(ctx context.Context, runID string, entry domain.CachedJob) error
	Load(ctx context.Context, runID string) (entry domain.CachedJob, found bool, err error)
	Delete(ctx context.Context, runID string) error
	Runs(ctx context.Context) ([]string, error)
}
