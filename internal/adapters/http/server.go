package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"b2brecon/internal/domain"
	"b2brecon/internal/ports"
)

const maxBody = 8 << 20

type Server struct {
	runs      ports.Runs
	learning  ports.Learning
	blacklist ports.Blacklist
	log       *zap.Logger
}

func New(runs ports.Runs, learning ports.Learning, blacklist ports.Blacklist, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{runs: runs, learning: learning, blacklist: blacklist, log: log}
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	r.Route("/runs/{runId}", func(r chi.Router) {
		r.Post("/urls", s.postRunURLs)
		r.Get("/domains", s.getRunDomains)
		r.Post("/enrichment", s.postRunEnrichment)
		r.Get("/enrichment", s.getRunEnrichment)
		r.Post("/corrections", s.postRunCorrection)
		r.Get("/learning/statistics", s.getRunLearningStatistics)
	})
	r.Get("/enrichment/jobs/{jobId}", s.getEnrichmentJob)
	r.Get("/learning/statistics", s.getLearningStatistics)
	r.Get("/learning/summary", s.getLearnedSummary)
	r.Post("/learning/patterns", s.postLearningPatterns)
	r.Post("/blacklist", s.postBlacklist)
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) postRunURLs(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.pathParam(w, r, "runId")
	if !ok {
		return
	}
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	urls := make([]domain.URLEntry, 0, len(req.URLs))
	for _, u := range req.URLs {
		e := domain.URLEntry{URL: u.URL, Source: domain.Source(u.Source)}
		if u.ObservedAt != nil {
			e.ObservedAt = *u.ObservedAt
		}
		urls = append(urls, e)
	}
	logs := make(map[domain.Source][]string, len(req.LastLinks))
	for engine, links := range req.LastLinks {
		logs[domain.Source(engine)] = links
	}
	n, err := s.runs.Ingest(r.Context(), runID, urls, logs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{RunID: runID, Appended: n})
}

func (s *Server) getRunDomains(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.pathParam(w, r, "runId")
	if !ok {
		return
	}
	var status *string
	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &status); err != nil {
		s.writeError(w, r, domain.Invalid("status", err.Error()))
		return
	}
	records, err := s.runs.GroupAndClassify(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]domainDTO, 0, len(records))
	for _, rec := range records {
		if status != nil && *status != "" && string(rec.RegistryStatus) != *status {
			continue
		}
		out = append(out, toDomainDTO(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) postRunEnrichment(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.pathParam(w, r, "runId")
	if !ok {
		return
	}
	var req enrichmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.runs.StartEnrichment(r.Context(), runID, req.Domains)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toSubmissionDTO(sub))
}

func (s *Server) getRunEnrichment(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.pathParam(w, r, "runId")
	if !ok {
		return
	}
	state, active, err := s.runs.Resume(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := resumeDTO{RunID: runID, Active: active, Results: []domain.EnrichmentResult{}}
	if active {
		out.JobID = state.JobID
		out.Results = state.Results.Sorted()
		if state.Job != nil {
			job := toJobDTO(*state.Job)
			out.Job = &job
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEnrichmentJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathParam(w, r, "jobId")
	if !ok {
		return
	}
	job, err := s.runs.PollJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(job))
}

func (s *Server) postRunCorrection(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.pathParam(w, r, "runId")
	if !ok {
		return
	}
	var req correctionRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.learning.RecordCorrection(r.Context(), domain.Correction{
		RunID:       runID,
		Domain:      req.Domain,
		TaxID:       req.TaxID,
		EvidenceURL: req.EvidenceURL,
		SessionID:   req.SessionID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCorrectionResponse(out))
}

func (s *Server) getRunLearningStatistics(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.pathParam(w, r, "runId")
	if !ok {
		return
	}
	s.writeStatistics(w, r, runID)
}

func (s *Server) getLearningStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeStatistics(w, r, "")
}

func (s *Server) writeStatistics(w http.ResponseWriter, r *http.Request, runID string) {
	st, err := s.learning.GetLearningStatistics(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statisticsDTO(st))
}

func (s *Server) getLearnedSummary(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		s.writeError(w, r, domain.Invalid("limit", err.Error()))
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	items, err := s.learning.LearnedSummary(r.Context(), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, learnedSummaryDTO{Items: items})
}

func (s *Server) postLearningPatterns(w http.ResponseWriter, r *http.Request) {
	var req importPatternsRequest
	if !s.decode(w, r, &req) {
		return
	}
	patterns := make([]domain.LearnedPattern, 0, len(req.Patterns))
	for _, p := range req.Patterns {
		patterns = append(patterns, domain.LearnedPattern{
			RunID:      p.RunID,
			Domain:     p.Domain,
			Kind:       domain.PatternKind(p.Kind),
			Value:      p.Value,
			SourceURL:  p.SourceURL,
			URLPattern: p.URLPattern,
		})
	}
	n, err := s.learning.ImportExternal(r.Context(), patterns)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, importPatternsResponse{Received: len(patterns), Imported: n})
}

func (s *Server) postBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := s.blacklist.Add(r.Context(), domain.BlacklistEntry{Domain: req.Domain, Reason: req.Reason, RunID: req.RunID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, blacklistDTO{Domain: e.Domain, Reason: e.Reason, RunID: e.RunID, CreatedAt: e.CreatedAt})
}

// pathParam binds a required simple-style path parameter.
func (s *Server) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || v == "" {
		s.writeError(w, r, domain.Invalid(name, "required"))
		return "", false
	}
	return v, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, domain.Invalid("body", "malformed JSON: "+err.Error()))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorDTO{Error: err.Error()}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			if r.URL.Path == "/healthz" {
				return
			}
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
