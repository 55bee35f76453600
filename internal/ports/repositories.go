package ports

import (
	"context"

	"b2brecon/internal/domain"
)

// SupplierRegistry is the shared supplier/blacklist store. It is mutated by
// operators elsewhere, so callers re-read before writing.
type SupplierRegistry interface {
	ListSuppliers(ctx context.Context, limit, offset int) (suppliers []domain.Supplier, total int, err error)
	CreateSupplier(ctx context.Context, fields domain.SupplierFields) (domain.Supplier, error)
	ListBlacklist(ctx context.Context, limit, offset int) (entries []domain.BlacklistEntry, total int, err error)
	AddToBlacklist(ctx context.Context, entry domain.BlacklistEntry) error
}

// RunRepository stores crawl runs, their discovered URLs and engine logs.
type RunRepository interface {
	EnsureRun(ctx context.Context, runID string) error
	RunExists(ctx context.Context, runID string) (bool, error)
	AppendURLs(ctx context.Context, runID string, urls []domain.URLEntry) (int64, error)
	ListURLs(ctx context.Context, runID string) ([]domain.URLEntry, error)
	SaveSourceLog(ctx context.Context, runID string, engine domain.Source, lastLinks []string) error
	SourceLog(ctx context.Context, runID string) (domain.RunSourceLog, error)
}

// LearningLedger is the append-only store of learned patterns.
type LearningLedger interface {
	Append(ctx context.Context, patterns []domain.LearnedPattern) error
	Exists(ctx context.Context, domainName, value, sourceURL string) (bool, error)
	// Statistics aggregates over one run, or over all runs when runID is empty.
	Statistics(ctx context.Context, runID string) (domain.LearningStatistics, error)
	// URLPatterns returns learned URL paths ordered by frequency.
	URLPatterns(ctx context.Context, limit int) ([]string, error)
}

// CompanyLookup fetches extended company metadata by tax ID.
type CompanyLookup interface {
	LookupCompanyMetadata(ctx context.Context, taxID string) (domain.CompanyMetadata, error)
}
