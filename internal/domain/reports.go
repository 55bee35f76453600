package domain

// Submission describes an accepted enrichment batch.
type Submission struct {
	RunID     string
	JobID     string
	Submitted []string
	// Skipped holds domains dropped before submit because they already match
	// the registry or have a known tax ID.
	Skipped []string
}

type SkipReason string

const (
	SkipDuplicate     SkipReason = "duplicate"
	SkipNotPromotable SkipReason = "not_promotable"
)

type FailureReason string

const (
	FailCreate     FailureReason = "create_failed"
	FailExtraction FailureReason = "extraction_failed"
)

type DomainSkip struct {
	Domain string
	Reason SkipReason
}

type DomainFailure struct {
	Domain string
	Reason FailureReason
	Err    string
}

// ReconcileReport summarizes one auto-promotion pass. Failures are reported
// per domain; the batch itself is never rolled back.
type ReconcileReport struct {
	JobID            string
	AlreadyProcessed bool
	Created          []Supplier
	Skipped          []DomainSkip
	Failed           []DomainFailure
	MetadataMissing  []string
}

func (r ReconcileReport) PartialFailure() bool { return len(r.Failed) > 0 }

func (r ReconcileReport) Duplicates() int {
	n := 0
	for _, s := range r.Skipped {
		if s.Reason == SkipDuplicate {
			n++
		}
	}
	return n
}

// Correction is an operator-supplied value for a domain the extractor missed.
type Correction struct {
	RunID       string
	Domain      string
	TaxID       string
	EvidenceURL string
	SessionID   string
}

type CorrectionOutcome struct {
	Learned    []LearnedPattern
	Statistics LearningStatistics
}

// ResumeState is what a reloaded client needs to continue following a run.
type ResumeState struct {
	RunID   string
	JobID   string
	Job     *EnrichmentJob
	Results ResultSet
}
