package domain

import (
	"sort"
	"time"
)

// Core models shared by services and adapters. Transport shapes live in the
// adapters; keep these free of JSON concerns except where they are persisted
// verbatim (job cache, results).

// Source identifies the crawl engine that surfaced a URL.
type Source string

const (
	SourceGoogle Source = "google"
	SourceYandex Source = "yandex"
	// SourceBoth is only valid as a per-URL tag; it expands to both engines.
	SourceBoth Source = "both"
)

// Engines lists the concrete engines in display order.
var Engines = []Source{SourceGoogle, SourceYandex}

type URLEntry struct {
	URL        string    `json:"url"`
	Source     Source    `json:"source,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

type RegistryStatus string

const (
	StatusUnclassified RegistryStatus = "unclassified"
	StatusSupplier     RegistryStatus = "supplier"
	StatusReseller     RegistryStatus = "reseller"
	StatusBlacklisted  RegistryStatus = "blacklisted"
)

// DomainRecord is one registrable root domain observed within a run.
type DomainRecord struct {
	Domain         string
	URLs           []URLEntry
	Sources        []Source
	RegistryStatus RegistryStatus
	SupplierID     *int64
}

// RunSourceLog holds the per-engine "last N links" log of a crawl run.
type RunSourceLog struct {
	LastLinks map[Source][]string
}

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// EnrichmentJob is a snapshot of one batch extraction run.
type EnrichmentJob struct {
	JobID            string
	ParentRunID      string
	RequestedDomains []string
	Status           JobStatus
	Processed        int
	Total            int
	CurrentDomain    string
	Error            string
	Results          ResultSet
}

// EnrichmentResult is the per-domain extraction outcome. Empty TaxID and
// Error mean absent.
type EnrichmentResult struct {
	Domain     string   `json:"domain"`
	TaxID      string   `json:"taxId,omitempty"`
	Emails     []string `json:"emails"`
	SourceURLs []string `json:"sourceUrls"`
	Error      string   `json:"error,omitempty"`
}

// IsPromotable reports whether the result carries a tax ID and at least one
// email and no error.
func (r EnrichmentResult) IsPromotable() bool {
	return r.TaxID != "" && len(r.Emails) > 0 && r.Error == ""
}

// ResultSet maps domain to its latest known result.
type ResultSet map[string]EnrichmentResult

// Merge folds results into the set. Entries are never removed; a repeated
// domain key is replaced by the newer result.
func (s ResultSet) Merge(results ...EnrichmentResult) {
	for _, r := range results {
		if r.Domain == "" {
			continue
		}
		s[r.Domain] = r
	}
}

func (s ResultSet) Clone() ResultSet {
	out := make(ResultSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Sorted returns the results ordered by domain.
func (s ResultSet) Sorted() []EnrichmentResult {
	out := make([]EnrichmentResult, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

type SupplierType string

const (
	SupplierTypeSupplier SupplierType = "supplier"
	SupplierTypeReseller SupplierType = "reseller"
)

type Supplier struct {
	ID        int64
	Name      string
	Domain    string
	Type      SupplierType
	TaxID     string
	Email     string
	Metadata  *CompanyMetadata
	CreatedAt time.Time
}

// SupplierFields is the payload for creating a supplier.
type SupplierFields struct {
	Name     string
	Domain   string
	Type     SupplierType
	TaxID    string
	Email    string
	Metadata *CompanyMetadata
}

// CompanyMetadata is the extended company profile fetched by tax ID.
type CompanyMetadata struct {
	Name              string   `json:"name,omitempty"`
	OGRN              string   `json:"ogrn,omitempty"`
	KPP               string   `json:"kpp,omitempty"`
	OKPO              string   `json:"okpo,omitempty"`
	CompanyStatus     string   `json:"companyStatus,omitempty"`
	RegistrationDate  string   `json:"registrationDate,omitempty"`
	LegalAddress      string   `json:"legalAddress,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	Website           string   `json:"website,omitempty"`
	Emails            []string `json:"emails,omitempty"`
	AuthorizedCapital *float64 `json:"authorizedCapital,omitempty"`
}

type BlacklistEntry struct {
	Domain    string
	Reason    string
	RunID     string
	CreatedAt time.Time
}

type PatternKind string

const (
	PatternTaxID PatternKind = "taxId"
	PatternEmail PatternKind = "email"
)

type PatternOrigin string

const (
	OriginManual   PatternOrigin = "manual"
	OriginExternal PatternOrigin = "external"
)

// LearnedPattern is one confirmed correction fed back to the extractor.
type LearnedPattern struct {
	RunID      string
	Domain     string
	Kind       PatternKind
	Value      string
	SourceURL  string
	URLPattern string
	SessionID  string
	Origin     PatternOrigin
	LearnedAt  time.Time
}

type LearningStatistics struct {
	TotalLearned          int
	ExternalContributions int
}

// CachedJob is the advisory resume hint stored per run. Results are for
// display only. Reconciled is set once the job's promotion pass finished.
type CachedJob struct {
	JobID      string    `json:"jobId"`
	Results    ResultSet `json:"results"`
	SavedAt    time.Time `json:"savedAt"`
	Reconciled bool      `json:"reconciled,omitempty"`
}
