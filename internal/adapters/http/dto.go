package httpadapter

import (
	"time"

	"b2brecon/internal/domain"
)

type urlDTO struct {
	URL        string     `json:"url"`
	Source     string     `json:"source,omitempty"`
	ObservedAt *time.Time `json:"observedAt,omitempty"`
}

type ingestRequest struct {
	URLs []urlDTO `json:"urls"`
	// LastLinks is keyed by engine (google, yandex).
	LastLinks map[string][]string `json:"lastLinks,omitempty"`
}

type ingestResponse struct {
	RunID    string `json:"runId"`
	Appended int64  `json:"appended"`
}

type domainDTO struct {
	Domain         string   `json:"domain"`
	URLCount       int      `json:"urlCount"`
	URLs           []string `json:"urls"`
	Sources        []string `json:"sources"`
	RegistryStatus string   `json:"registryStatus"`
	SupplierID     *int64   `json:"supplierId,omitempty"`
}

func toDomainDTO(r domain.DomainRecord) domainDTO {
	out := domainDTO{
		Domain:         r.Domain,
		URLCount:       len(r.URLs),
		URLs:           make([]string, 0, len(r.URLs)),
		Sources:        make([]string, 0, len(r.Sources)),
		RegistryStatus: string(r.RegistryStatus),
		SupplierID:     r.SupplierID,
	}
	for _, u := range r.URLs {
		out.URLs = append(out.URLs, u.URL)
	}
	for _, s := range r.Sources {
		out.Sources = append(out.Sources, string(s))
	}
	return out
}

type enrichmentRequest struct {
	Domains []string `json:"domains"`
}

type submissionDTO struct {
	RunID     string   `json:"runId"`
	JobID     string   `json:"jobId"`
	Submitted []string `json:"submitted"`
	Skipped   []string `json:"skipped"`
}

func toSubmissionDTO(s domain.Submission) submissionDTO {
	return submissionDTO{RunID: s.RunID, JobID: s.JobID, Submitted: nonNil(s.Submitted), Skipped: nonNil(s.Skipped)}
}

type jobDTO struct {
	JobID            string                    `json:"jobId"`
	RunID            string                    `json:"runId"`
	RequestedDomains []string                  `json:"requestedDomains"`
	Status           string                    `json:"status"`
	Processed        int                       `json:"processed"`
	Total            int                       `json:"total"`
	CurrentDomain    string                    `json:"currentDomain,omitempty"`
	Error            string                    `json:"error,omitempty"`
	Results          []domain.EnrichmentResult `json:"results"`
}

func toJobDTO(j domain.EnrichmentJob) jobDTO {
	return jobDTO{
		JobID:            j.JobID,
		RunID:            j.ParentRunID,
		RequestedDomains: nonNil(j.RequestedDomains),
		Status:           string(j.Status),
		Processed:        j.Processed,
		Total:            j.Total,
		CurrentDomain:    j.CurrentDomain,
		Error:            j.Error,
		Results:          j.Results.Sorted(),
	}
}

type resumeDTO struct {
	RunID   string                    `json:"runId"`
	Active  bool                      `json:"active"`
	JobID   string                    `json:"jobId,omitempty"`
	Job     *jobDTO                   `json:"job,omitempty"`
	Results []domain.EnrichmentResult `json:"results"`
}

type correctionRequest struct {
	Domain      string `json:"domain"`
	TaxID       string `json:"taxId"`
	EvidenceURL string `json:"evidenceUrl"`
	SessionID   string `json:"sessionId,omitempty"`
}

type patternDTO struct {
	Domain     string    `json:"domain"`
	Kind       string    `json:"kind"`
	Value      string    `json:"value"`
	SourceURL  string    `json:"sourceUrl"`
	URLPattern string    `json:"urlPattern"`
	Origin     string    `json:"origin"`
	LearnedAt  time.Time `json:"learnedAt"`
}

type statisticsDTO struct {
	TotalLearned          int `json:"totalLearned"`
	ExternalContributions int `json:"externalContributions"`
}

type correctionResponse struct {
	Learned    []patternDTO  `json:"learned"`
	Statistics statisticsDTO `json:"statistics"`
}

func toCorrectionResponse(o domain.CorrectionOutcome) correctionResponse {
	out := correctionResponse{Learned: []patternDTO{}, Statistics: statisticsDTO(o.Statistics)}
	for _, p := range o.Learned {
		out.Learned = append(out.Learned, patternDTO{
			Domain:     p.Domain,
			Kind:       string(p.Kind),
			Value:      p.Value,
			SourceURL:  p.SourceURL,
			URLPattern: p.URLPattern,
			Origin:     string(p.Origin),
			LearnedAt:  p.LearnedAt,
		})
	}
	return out
}

type externalPatternDTO struct {
	RunID      string `json:"runId,omitempty"`
	Domain     string `json:"domain"`
	Kind       string `json:"kind,omitempty"`
	Value      string `json:"value"`
	SourceURL  string `json:"sourceUrl,omitempty"`
	URLPattern string `json:"urlPattern,omitempty"`
}

type importPatternsRequest struct {
	Patterns []externalPatternDTO `json:"patterns"`
}

type importPatternsResponse struct {
	Received int `json:"received"`
	Imported int `json:"imported"`
}

type learnedSummaryDTO struct {
	Items []string `json:"items"`
}

type blacklistRequest struct {
	Domain string `json:"domain"`
	Reason string `json:"reason,omitempty"`
	RunID  string `json:"runId,omitempty"`
}

type blacklistDTO struct {
	Domain    string    `json:"domain"`
	Reason    string    `json:"reason"`
	RunID     string    `json:"runId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type errorDTO struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
