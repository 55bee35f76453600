package learning

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"b2brecon/internal/domain"
	"b2brecon/internal/metrics"
	"b2brecon/internal/normalize"
	"b2brecon/internal/ports"
)

type Service struct {
	runs   ports.RunRepository
	ledger ports.LearningLedger
	dedupe bool
	log    *zap.Logger
	now    func() time.Time
}

// New builds the feedback store. With dedupe set, a correction repeating an
// existing (domain, value, evidence URL) triple is not appended again.
func New(runs ports.RunRepository, ledger ports.LearningLedger, dedupe bool, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{runs: runs, ledger: ledger, dedupe: dedupe, log: log, now: time.Now}
}

func (s *Service) RecordCorrection(ctx context.Context, c domain.Correction) (domain.CorrectionOutcome, error) {
	c, err := validate(c)
	if err != nil {
		return domain.CorrectionOutcome{}, err
	}
	ok, err := s.runs.RunExists(ctx, c.RunID)
	if err != nil {
		return domain.CorrectionOutcome{}, domain.Transport("check run", err)
	}
	if !ok {
		return domain.CorrectionOutcome{}, &runNotFound{runID: c.RunID}
	}

	p := domain.LearnedPattern{
		RunID:      c.RunID,
		Domain:     c.Domain,
		Kind:       domain.PatternTaxID,
		Value:      c.TaxID,
		SourceURL:  c.EvidenceURL,
		URLPattern: urlPattern(c.EvidenceURL),
		SessionID:  c.SessionID,
		Origin:     domain.OriginManual,
		LearnedAt:  s.now().UTC(),
	}

	var learned []domain.LearnedPattern
	exists := false
	if s.dedupe {
		exists, err = s.ledger.Exists(ctx, p.Domain, p.Value, p.SourceURL)
		if err != nil {
			return domain.CorrectionOutcome{}, domain.Transport("check learned pattern", err)
		}
	}
	if !exists {
		if err := s.ledger.Append(ctx, []domain.LearnedPattern{p}); err != nil {
			return domain.CorrectionOutcome{}, domain.Transport("append learned pattern", err)
		}
		learned = append(learned, p)
		metrics.CorrectionsRecorded.Inc()
	}
	s.log.Info("correction recorded",
		zap.String("run_id", c.RunID),
		zap.String("domain", c.Domain),
		zap.Bool("duplicate", exists))

	stats, err := s.ledger.Statistics(ctx, c.RunID)
	if err != nil {
		return domain.CorrectionOutcome{}, domain.Transport("learning statistics", err)
	}
	return domain.CorrectionOutcome{Learned: learned, Statistics: stats}, nil
}

// GetLearningStatistics aggregates over one run, or all runs when runID is empty.
func (s *Service) GetLearningStatistics(ctx context.Context, runID string) (domain.LearningStatistics, error) {
	stats, err := s.ledger.Statistics(ctx, strings.TrimSpace(runID))
	if err != nil {
		return domain.LearningStatistics{}, domain.Transport("learning statistics", err)
	}
	return stats, nil
}

// ImportExternal appends patterns contributed by other deployments. They count
// towards ExternalContributions. Entries without a domain or value are
// dropped; an unknown kind rejects the whole batch.
func (s *Service) ImportExternal(ctx context.Context, patterns []domain.LearnedPattern) (int, error) {
	var keep []domain.LearnedPattern
	for _, p := range patterns {
		p.Domain = normalize.ExtractRootDomain(p.Domain)
		p.Value = strings.TrimSpace(p.Value)
		if p.Domain == "" || p.Value == "" {
			continue
		}
		switch p.Kind {
		case "":
			p.Kind = domain.PatternTaxID
		case domain.PatternTaxID, domain.PatternEmail:
		default:
			return 0, domain.Invalid("kind", "unknown pattern kind "+string(p.Kind))
		}
		p.Origin = domain.OriginExternal
		if p.URLPattern == "" {
			p.URLPattern = urlPattern(p.SourceURL)
		}
		if p.LearnedAt.IsZero() {
			p.LearnedAt = s.now().UTC()
		}
		keep = append(keep, p)
	}
	if len(keep) == 0 {
		return 0, nil
	}
	if err := s.ledger.Append(ctx, keep); err != nil {
		return 0, domain.Transport("append external patterns", err)
	}
	s.log.Info("external patterns imported", zap.Int("received", len(patterns)), zap.Int("imported", len(keep)))
	return len(keep), nil
}

const (
	DefaultSummaryLimit = 10
	maxSummaryLimit     = 100
)

// LearnedSummary lists the most frequently learned evidence paths.
func (s *Service) LearnedSummary(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}
	limit = min(limit, maxSummaryLimit)
	out, err := s.ledger.URLPatterns(ctx, limit)
	if err != nil {
		return nil, domain.Transport("learned patterns", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func validate(c domain.Correction) (domain.Correction, error) {
	c.RunID = strings.TrimSpace(c.RunID)
	c.Domain = normalize.ExtractRootDomain(c.Domain)
	c.TaxID = strings.TrimSpace(c.TaxID)
	c.EvidenceURL = strings.TrimSpace(c.EvidenceURL)
	c.SessionID = strings.TrimSpace(c.SessionID)

	switch {
	case c.RunID == "":
		return c, domain.Invalid("runId", "required")
	case c.Domain == "":
		return c, domain.Invalid("domain", "required")
	case !validTaxID(c.TaxID):
		return c, domain.Invalid("taxId", "must be 10 or 12 digits")
	case c.EvidenceURL == "":
		return c, domain.Invalid("evidenceUrl", "required")
	}
	u, err := url.Parse(c.EvidenceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c, domain.Invalid("evidenceUrl", "must be an http(s) URL")
	}
	return c, nil
}

func validTaxID(s string) bool {
	if len(s) != 10 && len(s) != 12 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// urlPattern is the evidence page path the extractor should try on other sites.
func urlPattern(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return "/"
	}
	return p
}

type runNotFound struct{ runID string }

func (e *runNotFound) Error() string        { return "run " + e.runID + " not found" }
func (e *runNotFound) Is(target error) bool { return target == domain.ErrNotFound }
