package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"b2brecon/internal/domain"
	"b2brecon/internal/ports"
)

var (
	_ ports.EnrichmentBackend = (*DB)(nil)
	_ ports.JobQueue          = (*DB)(nil)
)

// SubmitEnrichmentBatch queues a job for the extraction workers.
func (db *DB) SubmitEnrichmentBatch(ctx context.Context, runID string, domains []string) (string, error) {
	id := uuid.NewString()
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO enrichment_jobs (id, run_id, domains, total)
		VALUES ($1, $2, $3, $4)
	`, id, runID, domains, len(domains))
	if err != nil {
		return "", mapPgErr(err)
	}
	return id, nil
}

// GetEnrichmentStatus reports a queued job as running; clients only see the
// three public states.
func (db *DB) GetEnrichmentStatus(ctx context.Context, jobID string) (domain.EnrichmentJob, error) {
	var job domain.EnrichmentJob
	if _, err := uuid.Parse(jobID); err != nil {
		return job, domain.ErrNotFound
	}
	var status string
	err := db.Pool.QueryRow(ctx, `
		SELECT id::text, run_id, domains, status, processed, total,
		       COALESCE(current_domain, ''), COALESCE(error, '')
		FROM enrichment_jobs WHERE id = $1
	`, jobID).Scan(&job.JobID, &job.ParentRunID, &job.RequestedDomains, &status,
		&job.Processed, &job.Total, &job.CurrentDomain, &job.Error)
	if err != nil {
		return job, mapPgErr(err)
	}
	switch status {
	case "completed":
		job.Status = domain.JobCompleted
	case "failed":
		job.Status = domain.JobFailed
	default:
		job.Status = domain.JobRunning
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT domain, COALESCE(inn, ''), emails, source_urls, COALESCE(error, '')
		FROM enrichment_results WHERE job_id = $1 ORDER BY domain
	`, jobID)
	if err != nil {
		return job, err
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EnrichmentResult, error) {
		var r domain.EnrichmentResult
		err := row.Scan(&r.Domain, &r.TaxID, &r.Emails, &r.SourceURLs, &r.Error)
		return r, err
	})
	if err != nil {
		return job, err
	}
	job.Results = make(domain.ResultSet, len(results))
	job.Results.Merge(results...)
	return job, nil
}

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (task ports.EnrichmentTask, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return task, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id::text, run_id, domains FROM enrichment_jobs
		WHERE status = 'queued'
		ORDER BY queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&task.JobID, &task.RunID, &task.Domains)
	if errors.Is(err, pgx.ErrNoRows) {
		return task, false, nil
	}
	if err != nil {
		return task, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE enrichment_jobs SET status = 'running', started_at = now(), attempts = attempts + 1 WHERE id = $1
	`, task.JobID); err != nil {
		return task, false, err
	}
	return task, true, nil
}

func (db *DB) SetCurrentDomain(ctx context.Context, jobID, domainName string) error {
	_, err := db.Pool.Exec(ctx, `UPDATE enrichment_jobs SET current_domain = $2 WHERE id = $1`, jobID, domainName)
	return err
}

// RecordResult upserts one domain result and recounts progress in the same
// transaction, so processed never exceeds the stored results.
func (db *DB) RecordResult(ctx context.Context, jobID string, r domain.EnrichmentResult) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO enrichment_results (job_id, domain, inn, emails, source_urls, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, domain) DO UPDATE SET
			inn = EXCLUDED.inn, emails = EXCLUDED.emails, source_urls = EXCLUDED.source_urls,
			error = EXCLUDED.error, recorded_at = now()
	`, jobID, r.Domain, nullable(r.TaxID), nonNil(r.Emails), nonNil(r.SourceURLs), nullable(r.Error)); err != nil {
		return mapPgErr(err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE enrichment_jobs
		SET processed = (SELECT count(*) FROM enrichment_results WHERE job_id = $1)
		WHERE id = $1
	`, jobID)
	return err
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.Pool.Exec(ctx, `
		UPDATE enrichment_jobs SET status = 'completed', current_domain = NULL, finished_at = now() WHERE id = $1
	`, jobID)
	return err
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.Pool.Exec(ctx, `
		UPDATE enrichment_jobs SET status = 'failed', error = $2, finished_at = now() WHERE id = $1
	`, jobID, reason)
	return err
}

// RequeueStale returns jobs left running by a crashed worker to the queue.
func (db *DB) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE enrichment_jobs SET status = 'queued', current_domain = NULL
		WHERE status = 'running' AND started_at < $1
	`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
