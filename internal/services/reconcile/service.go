package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"b2brecon/internal/domain"
	"b2brecon/internal/metrics"
	"b2brecon/internal/normalize"
	"b2brecon/internal/ports"
	"b2brecon/internal/services/registry"
)

// Registry column limits for metadata fields.
const (
	maxStatusLen = 50
	maxPhoneLen  = 50
)

// Invalidator drops a downstream supplier cache.
type Invalidator interface {
	Invalidate()
}

type Options struct {
	PageSize int
	// CreateInterval paces consecutive supplier creates. Zero means no pacing.
	CreateInterval time.Duration
}

// Engine promotes completed enrichment results into supplier records, at
// most once per job per process.
type Engine struct {
	reg         ports.SupplierRegistry
	loader      *registry.Loader
	lookup      ports.CompanyLookup
	invalidator Invalidator
	limiter     *rate.Limiter
	log         *zap.Logger

	mu        sync.Mutex
	processed map[string]struct{}
}

// New builds an engine. lookup and invalidator may be nil.
func New(reg ports.SupplierRegistry, lookup ports.CompanyLookup, invalidator Invalidator, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if opts.CreateInterval > 0 {
		limit = rate.Every(opts.CreateInterval)
	}
	return &Engine{
		reg:         reg,
		loader:      registry.NewLoader(reg, opts.PageSize),
		lookup:      lookup,
		invalidator: invalidator,
		limiter:     rate.NewLimiter(limit, 1),
		log:         log,
		processed:   make(map[string]struct{}),
	}
}

// claim marks jobID as processed and reports whether this caller won.
func (e *Engine) claim(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.processed[jobID]; ok {
		return false
	}
	e.processed[jobID] = struct{}{}
	return true
}

func (e *Engine) release(jobID string) {
	e.mu.Lock()
	delete(e.processed, jobID)
	e.mu.Unlock()
}

// ReconcileJob promotes every promotable result of a completed job. Per-domain
// failures are reported in the returned report; an error is returned only when
// the job is not completed or the registry could not be read.
func (e *Engine) ReconcileJob(ctx context.Context, job domain.EnrichmentJob) (domain.ReconcileReport, error) {
	report := domain.ReconcileReport{JobID: job.JobID}
	if job.Status != domain.JobCompleted {
		return report, fmt.Errorf("job %s is %s: %w", job.JobID, job.Status, domain.ErrJobNotCompleted)
	}
	if !e.claim(job.JobID) {
		report.AlreadyProcessed = true
		e.log.Debug("job already reconciled", zap.String("job_id", job.JobID))
		return report, nil
	}

	// Must read through to the registry, never a cached snapshot.
	suppliers, err := e.loader.Suppliers(ctx)
	if err != nil {
		e.release(job.JobID)
		return report, err
	}
	idx := registry.NewIndex(suppliers, nil)

	for _, r := range job.Results.Sorted() {
		e.promote(ctx, job.JobID, r, idx, &report)
	}

	if len(report.Created) > 0 && e.invalidator != nil {
		e.invalidator.Invalidate()
	}
	e.log.Info("reconciliation finished",
		zap.String("job_id", job.JobID),
		zap.Int("created", len(report.Created)),
		zap.Int("duplicates", report.Duplicates()),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

func (e *Engine) promote(ctx context.Context, jobID string, r domain.EnrichmentResult, idx *registry.Index, report *domain.ReconcileReport) {
	root := normalize.ExtractRootDomain(r.Domain)
	log := e.log.With(zap.String("job_id", jobID), zap.String("domain", root))

	switch {
	case r.Error != "":
		report.Failed = append(report.Failed, domain.DomainFailure{Domain: root, Reason: domain.FailExtraction, Err: r.Error})
		return
	case !r.IsPromotable():
		report.Skipped = append(report.Skipped, domain.DomainSkip{Domain: root, Reason: domain.SkipNotPromotable})
		return
	}
	if _, ok := idx.Supplier(root); ok {
		e.skipDuplicate(log, root, report)
		return
	}

	meta := e.metadata(ctx, log, r.TaxID)
	if meta == nil && e.lookup != nil {
		report.MetadataMissing = append(report.MetadataMissing, root)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		e.fail(log, root, err, report)
		return
	}
	created, err := e.reg.CreateSupplier(ctx, supplierFields(root, r, meta))
	if errors.Is(err, domain.ErrConflict) {
		idx.AddSupplier(domain.Supplier{Domain: root})
		e.skipDuplicate(log, root, report)
		return
	}
	if err != nil {
		e.fail(log, root, err, report)
		return
	}
	if created.Domain == "" {
		created.Domain = root
	}
	idx.AddSupplier(created)
	report.Created = append(report.Created, created)
	metrics.SuppliersCreated.Inc()
	log.Info("supplier created", zap.Int64("supplier_id", created.ID), zap.String("name", created.Name))
}

func (e *Engine) skipDuplicate(log *zap.Logger, root string, report *domain.ReconcileReport) {
	report.Skipped = append(report.Skipped, domain.DomainSkip{Domain: root, Reason: domain.SkipDuplicate})
	metrics.DuplicatesSkipped.Inc()
	log.Debug("supplier exists, skipped")
}

func (e *Engine) fail(log *zap.Logger, root string, err error, report *domain.ReconcileReport) {
	report.Failed = append(report.Failed, domain.DomainFailure{Domain: root, Reason: domain.FailCreate, Err: err.Error()})
	metrics.CreateFailures.Inc()
	log.Error("supplier create failed", zap.Error(err))
}

// metadata is best effort: nil on any failure.
func (e *Engine) metadata(ctx context.Context, log *zap.Logger, taxID string) *domain.CompanyMetadata {
	if e.lookup == nil {
		return nil
	}
	meta, err := e.lookup.LookupCompanyMetadata(ctx, taxID)
	if err != nil {
		metrics.MetadataFailures.Inc()
		log.Warn("metadata lookup failed, continuing without it", zap.String("tax_id", taxID), zap.Error(err))
		return nil
	}
	meta.CompanyStatus = truncate(meta.CompanyStatus, maxStatusLen)
	meta.Phone = truncate(meta.Phone, maxPhoneLen)
	return &meta
}

func supplierFields(root string, r domain.EnrichmentResult, meta *domain.CompanyMetadata) domain.SupplierFields {
	name := root
	if meta != nil && meta.Name != "" {
		name = meta.Name
	}
	return domain.SupplierFields{
		Name:     name,
		Domain:   root,
		Type:     domain.SupplierTypeSupplier,
		TaxID:    r.TaxID,
		Email:    r.Emails[0],
		Metadata: meta,
	}
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
