package runs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"b2brecon/internal/domain"
	"b2brecon/internal/ports"
	"b2brecon/internal/services/enrichment"
	"b2brecon/internal/services/grouping"
	"b2brecon/internal/services/registry"
)

type Orchestrator interface {
	Submit(ctx context.Context, runID string, domains []string) (domain.Submission, error)
	Poll(ctx context.Context, jobID string) (domain.EnrichmentJob, error)
	Follow(ctx context.Context, jobID string, seed domain.ResultSet, onUpdate func(enrichment.Update)) (domain.EnrichmentJob, error)
}

type Reconciler interface {
	ReconcileJob(ctx context.Context, job domain.EnrichmentJob) (domain.ReconcileReport, error)
}

// Outcome is delivered once when a subscription ends.
type Outcome struct {
	Job    domain.EnrichmentJob
	Report *domain.ReconcileReport
	Err    error
}

// Service is the run-level facade used by the HTTP layer. Subscriptions it
// starts live on the background context passed to New, not on the request.
type Service struct {
	repo       ports.RunRepository
	registry   enrichment.RegistryIndex
	orch       Orchestrator
	reconciler Reconciler
	cache      ports.JobCache
	log        *zap.Logger
	bg         context.Context
	now        func() time.Time

	mu   sync.Mutex
	subs map[string]*Subscription
}

func New(bg context.Context, repo ports.RunRepository, reg enrichment.RegistryIndex, orch Orchestrator, reconciler Reconciler, cache ports.JobCache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:       repo,
		registry:   reg,
		orch:       orch,
		reconciler: reconciler,
		cache:      cache,
		log:        log,
		bg:         bg,
		now:        time.Now,
		subs:       make(map[string]*Subscription),
	}
}

// Ingest records crawl output for a run, creating the run on first use.
func (s *Service) Ingest(ctx context.Context, runID string, urls []domain.URLEntry, logs map[domain.Source][]string) (int64, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return 0, domain.Invalid("runId", "required")
	}
	now := s.now().UTC()
	clean := make([]domain.URLEntry, 0, len(urls))
	for _, u := range urls {
		u.URL = strings.TrimSpace(u.URL)
		if u.URL == "" {
			continue
		}
		switch u.Source {
		case "", domain.SourceGoogle, domain.SourceYandex, domain.SourceBoth:
		default:
			return 0, domain.Invalid("source", "unknown source "+string(u.Source))
		}
		if u.ObservedAt.IsZero() {
			u.ObservedAt = now
		}
		clean = append(clean, u)
	}
	for engine := range logs {
		if engine != domain.SourceGoogle && engine != domain.SourceYandex {
			return 0, domain.Invalid("logs", "unknown engine "+string(engine))
		}
	}

	if err := s.repo.EnsureRun(ctx, runID); err != nil {
		return 0, domain.Transport("ensure run", err)
	}
	n, err := s.repo.AppendURLs(ctx, runID, clean)
	if err != nil {
		return 0, domain.Transport("append urls", err)
	}
	for engine, links := range logs {
		if err := s.repo.SaveSourceLog(ctx, runID, engine, links); err != nil {
			return n, domain.Transport("save source log", err)
		}
	}
	s.log.Info("run ingested", zap.String("run_id", runID), zap.Int64("urls", n), zap.Int("logs", len(logs)))
	return n, nil
}

// GroupAndClassify builds the run's read model: one record per root domain,
// attributed to engines and classified against the registry, ordered by URL
// count descending then domain.
func (s *Service) GroupAndClassify(ctx context.Context, runID string) ([]domain.DomainRecord, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, domain.Invalid("runId", "required")
	}
	ok, err := s.repo.RunExists(ctx, runID)
	if err != nil {
		return nil, domain.Transport("check run", err)
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	urls, err := s.repo.ListURLs(ctx, runID)
	if err != nil {
		return nil, domain.Transport("list urls", err)
	}
	srcLog, err := s.repo.SourceLog(ctx, runID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Transport("source log", err)
	}

	records := grouping.Group(urls)
	attr := grouping.NewAttributor(srcLog)
	for i := range records {
		records[i].Sources = attr.Attribute(records[i].URLs)
	}

	idx, err := s.registry.Index(ctx)
	if err != nil {
		return nil, domain.Transport("load registry", err)
	}
	out := registry.Classify(records, idx, false)
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].URLs) != len(out[j].URLs) {
			return len(out[i].URLs) > len(out[j].URLs)
		}
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}

// StartEnrichment submits the selection, records the resume hint and follows
// the job in the background until it can be reconciled.
func (s *Service) StartEnrichment(ctx context.Context, runID string, domains []string) (domain.Submission, error) {
	sub, err := s.orch.Submit(ctx, runID, domains)
	if err != nil {
		return sub, err
	}
	// The previous hint only seeds the display view, never reconciliation.
	seed := domain.ResultSet{}
	if prev, found, err := s.cache.Load(ctx, sub.RunID); err == nil && found {
		seed = prev.Results.Clone()
	}
	s.saveHint(ctx, sub.RunID, sub.JobID, seed)
	s.SubscribeToJob(s.bg, sub.RunID, sub.JobID, seed, nil, nil)
	return sub, nil
}

// Subscription is a running poll loop for one job.
type Subscription struct {
	RunID  string
	JobID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops polling. The job itself is not cancelled.
func (s *Subscription) Cancel() { s.cancel() }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// SubscribeToJob follows jobID, persisting merged results after every update
// and reconciling once the job completes. At most one subscription per job
// is active; a second call returns the existing one and its callbacks are
// ignored.
func (s *Service) SubscribeToJob(ctx context.Context, runID, jobID string, seed domain.ResultSet, onUpdate func(enrichment.Update), onTerminal func(Outcome)) *Subscription {
	s.mu.Lock()
	if existing, ok := s.subs[jobID]; ok {
		s.mu.Unlock()
		return existing
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{RunID: runID, JobID: jobID, cancel: cancel, done: make(chan struct{})}
	s.subs[jobID] = sub
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.subs, jobID)
			s.mu.Unlock()
			close(sub.done)
		}()
		out := s.follow(ctx, runID, jobID, seed, onUpdate)
		if onTerminal != nil {
			onTerminal(out)
		}
	}()
	return sub
}

func (s *Service) follow(ctx context.Context, runID, jobID string, seed domain.ResultSet, onUpdate func(enrichment.Update)) Outcome {
	log := s.log.With(zap.String("run_id", runID), zap.String("job_id", jobID))
	latest := seed
	job, err := s.orch.Follow(ctx, jobID, seed, func(u enrichment.Update) {
		latest = u.Results
		s.updateHint(ctx, runID, domain.CachedJob{JobID: jobID, Results: u.Results})
		if onUpdate != nil {
			onUpdate(u)
		}
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		log.Info("job unknown to backend, dropping resume hint")
		if derr := s.cache.Delete(context.WithoutCancel(ctx), runID); derr != nil {
			log.Warn("drop resume hint", zap.Error(derr))
		}
		return Outcome{Job: job, Err: err}
	case errors.Is(err, context.Canceled):
		log.Debug("subscription cancelled")
		return Outcome{Job: job, Err: err}
	default:
		log.Warn("subscription ended", zap.Error(err))
		return Outcome{Job: job, Err: err}
	}

	// job.Results is the backend's final set; the merged view in latest only
	// goes back into the hint.
	report, err := s.reconciler.ReconcileJob(ctx, job)
	if err != nil {
		log.Error("reconciliation failed", zap.Error(err))
		return Outcome{Job: job, Err: err}
	}
	s.updateHint(ctx, runID, domain.CachedJob{JobID: jobID, Results: latest, Reconciled: true})
	return Outcome{Job: job, Report: &report}
}

func (s *Service) saveHint(ctx context.Context, runID, jobID string, results domain.ResultSet) {
	s.storeHint(ctx, runID, domain.CachedJob{JobID: jobID, Results: results})
}

// updateHint writes entry only while the run's hint still points at the same
// job, so a finishing older job cannot clobber the hint of a newer one.
func (s *Service) updateHint(ctx context.Context, runID string, entry domain.CachedJob) {
	cur, found, err := s.cache.Load(context.WithoutCancel(ctx), runID)
	if err == nil && found && cur.JobID != entry.JobID {
		s.log.Debug("resume hint owned by another job", zap.String("run_id", runID),
			zap.String("job_id", entry.JobID), zap.String("current", cur.JobID))
		return
	}
	s.storeHint(ctx, runID, entry)
}

func (s *Service) storeHint(ctx context.Context, runID string, entry domain.CachedJob) {
	entry.SavedAt = s.now().UTC()
	if err := s.cache.Save(context.WithoutCancel(ctx), runID, entry); err != nil {
		s.log.Warn("save resume hint", zap.String("run_id", runID), zap.String("job_id", entry.JobID), zap.Error(err))
	}
}

// Resume returns the run's active job, rehydrated from the backend. A hint
// pointing at a job the backend no longer knows is discarded and reported as
// no active job. Running jobs are re-followed in the background.
func (s *Service) Resume(ctx context.Context, runID string) (domain.ResumeState, bool, error) {
	return s.resume(ctx, runID, false)
}

func (s *Service) resume(ctx context.Context, runID string, reconcileCompleted bool) (domain.ResumeState, bool, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.ResumeState{}, false, domain.Invalid("runId", "required")
	}
	entry, found, err := s.cache.Load(ctx, runID)
	if err != nil {
		s.log.Warn("resume hint unreadable, treating as miss", zap.String("run_id", runID), zap.Error(err))
		return domain.ResumeState{}, false, nil
	}
	if !found || entry.JobID == "" {
		return domain.ResumeState{}, false, nil
	}

	job, err := s.orch.Poll(ctx, entry.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		if derr := s.cache.Delete(ctx, runID); derr != nil {
			s.log.Warn("drop resume hint", zap.String("run_id", runID), zap.Error(derr))
		}
		return domain.ResumeState{}, false, nil
	}
	if err != nil {
		return domain.ResumeState{}, false, err
	}

	results := entry.Results.Clone()
	for _, r := range job.Results {
		results.Merge(r)
	}
	follow := job.Status == domain.JobRunning ||
		(reconcileCompleted && job.Status == domain.JobCompleted && !entry.Reconciled)
	if follow && !s.subscribed(entry.JobID) {
		s.SubscribeToJob(s.bg, runID, entry.JobID, results, nil, nil)
	}
	return domain.ResumeState{RunID: runID, JobID: entry.JobID, Job: &job, Results: results}, true, nil
}

func (s *Service) subscribed(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[jobID]
	return ok
}

// ResumeAll re-follows every run with a resume hint and reconciles completed
// jobs whose hint is not yet marked reconciled. It returns how many hints are
// still backed by a known job.
func (s *Service) ResumeAll(ctx context.Context) (int, error) {
	runIDs, err := s.cache.Runs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, runID := range runIDs {
		_, ok, err := s.resume(ctx, runID, true)
		if err != nil {
			s.log.Warn("resume run", zap.String("run_id", runID), zap.Error(err))
			continue
		}
		if ok {
			n++
		}
	}
	s.log.Info("runs resumed", zap.Int("hints", len(runIDs)), zap.Int("resumed", n))
	return n, nil
}

func (s *Service) PollJob(ctx context.Context, jobID string) (domain.EnrichmentJob, error) {
	return s.orch.Poll(ctx, jobID)
}

// Wait blocks until every background subscription has ended.
func (s *Service) Wait() {
	for {
		s.mu.Lock()
		var pending *Subscription
		for _, sub := range s.subs {
			pending = sub
			break
		}
		s.mu.Unlock()
		if pending == nil {
			return
		}
		<-pending.Done()
	}
}
