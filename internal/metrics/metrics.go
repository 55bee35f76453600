package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "b2brecon"

var (
	JobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_jobs_submitted_total",
		Help:      "Enrichment batches accepted by the backend.",
	})
	SubmitSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_submit_skipped_total",
		Help:      "Domains dropped before submit because they already match the registry or have a tax ID.",
	})
	PollErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_poll_errors_total",
		Help:      "Swallowed poll failures by kind.",
	}, []string{"kind"})
	SuppliersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "suppliers_created_total",
		Help:      "Suppliers created by auto-promotion.",
	})
	DuplicatesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "promotion_duplicates_skipped_total",
		Help:      "Promotable domains skipped because a supplier already exists.",
	})
	CreateFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "promotion_create_failures_total",
		Help:      "Supplier create calls that failed.",
	})
	MetadataFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metadata_lookup_failures_total",
		Help:      "Company metadata lookups that failed; promotion continued without metadata.",
	})
	CorrectionsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "learning_corrections_total",
		Help:      "Operator corrections appended to the learned-pattern ledger.",
	})
	DomainsExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "domains_extracted_total",
		Help:      "Domains processed by the enrichment runner by outcome.",
	}, []string{"outcome"})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(
		JobsSubmitted,
		SubmitSkipped,
		PollErrors,
		SuppliersCreated,
		DuplicatesSkipped,
		CreateFailures,
		MetadataFailures,
		CorrectionsRecorded,
		DomainsExtracted,
	)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts a /metrics server on addr. Blocks.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
