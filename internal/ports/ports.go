package ports

import (
	"context"

	"b2brecon/internal/domain"
)

// Runs is the read model and command surface exposed to the presentation layer.
type Runs interface {
	Ingest(ctx context.Context, runID string, urls []domain.URLEntry, logs map[domain.Source][]string) (int64, error)
	GroupAndClassify(ctx context.Context, runID string) ([]domain.DomainRecord, error)
	StartEnrichment(ctx context.Context, runID string, domains []string) (domain.Submission, error)
	Resume(ctx context.Context, runID string) (domain.ResumeState, bool, error)
	PollJob(ctx context.Context, jobID string) (domain.EnrichmentJob, error)
}

// Learning accepts operator corrections and patterns shared by other
// deployments, and reports what has been learned.
type Learning interface {
	RecordCorrection(ctx context.Context, c domain.Correction) (domain.CorrectionOutcome, error)
	GetLearningStatistics(ctx context.Context, runID string) (domain.LearningStatistics, error)
	ImportExternal(ctx context.Context, patterns []domain.LearnedPattern) (int, error)
	LearnedSummary(ctx context.Context, limit int) ([]string, error)
}

// Blacklist adds operator blacklist entries.
type Blacklist interface {
	Add(ctx context.Context, entry domain.BlacklistEntry) (domain.BlacklistEntry, error)
}
