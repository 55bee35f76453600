package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"b2brecon/internal/domain"
	"b2brecon/internal/ports"
)

var (
	_ ports.RunRepository  = (*DB)(nil)
	_ ports.LearningLedger = (*DB)(nil)
)

// RunRepository

func (db *DB) EnsureRun(ctx context.Context, runID string) error {
	_, err := db.Pool.Exec(ctx, `INSERT INTO parsing_runs (run_id) VALUES ($1) ON CONFLICT DO NOTHING`, runID)
	return err
}

func (db *DB) RunExists(ctx context.Context, runID string) (bool, error) {
	var ok bool
	err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM parsing_runs WHERE run_id = $1)`, runID).Scan(&ok)
	return ok, err
}

func (db *DB) AppendURLs(ctx context.Context, runID string, urls []domain.URLEntry) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	vals := make([][]any, 0, len(urls))
	for _, u := range urls {
		vals = append(vals, []any{runID, u.URL, nullable(string(u.Source)), u.ObservedAt})
	}
	n, err := db.Pool.CopyFrom(ctx, pgx.Identifier{"run_urls"},
		[]string{"run_id", "url", "source", "observed_at"}, pgx.CopyFromRows(vals))
	return n, mapPgErr(err)
}

// ListURLs returns URLs in ingestion order.
func (db *DB) ListURLs(ctx context.Context, runID string) ([]domain.URLEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT url, COALESCE(source, ''), observed_at FROM run_urls WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.URLEntry, error) {
		var u domain.URLEntry
		var src string
		err := row.Scan(&u.URL, &src, &u.ObservedAt)
		u.Source = domain.Source(src)
		return u, err
	})
}

// SaveSourceLog replaces the engine's last-links log.
func (db *DB) SaveSourceLog(ctx context.Context, runID string, engine domain.Source, lastLinks []string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO run_source_logs (run_id, engine, last_links) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, engine) DO UPDATE SET last_links = EXCLUDED.last_links, updated_at = now()
	`, runID, string(engine), nonNil(lastLinks))
	return mapPgErr(err)
}

// SourceLog returns domain.ErrNotFound when no engine log was saved.
func (db *DB) SourceLog(ctx context.Context, runID string) (domain.RunSourceLog, error) {
	rows, err := db.Pool.Query(ctx, `SELECT engine, last_links FROM run_source_logs WHERE run_id = $1`, runID)
	if err != nil {
		return domain.RunSourceLog{}, err
	}
	defer rows.Close()
	out := domain.RunSourceLog{LastLinks: map[domain.Source][]string{}}
	for rows.Next() {
		var engine string
		var links []string
		if err := rows.Scan(&engine, &links); err != nil {
			return domain.RunSourceLog{}, err
		}
		out.LastLinks[domain.Source(engine)] = links
	}
	if err := rows.Err(); err != nil {
		return domain.RunSourceLog{}, err
	}
	if len(out.LastLinks) == 0 {
		return out, domain.ErrNotFound
	}
	return out, nil
}

// LearningLedger

func (db *DB) Append(ctx context.Context, patterns []domain.LearnedPattern) error {
	if len(patterns) == 0 {
		return nil
	}
	vals := make([][]any, 0, len(patterns))
	for _, p := range patterns {
		vals = append(vals, []any{
			nullable(p.RunID), p.Domain, string(p.Kind), p.Value, p.SourceURL,
			p.URLPattern, nullable(p.SessionID), string(p.Origin), p.LearnedAt,
		})
	}
	_, err := db.Pool.CopyFrom(ctx, pgx.Identifier{"learned_patterns"},
		[]string{"run_id", "domain", "kind", "value", "source_url", "url_pattern", "session_id", "origin", "learned_at"},
		pgx.CopyFromRows(vals))
	return mapPgErr(err)
}

func (db *DB) Exists(ctx context.Context, domainName, value, sourceURL string) (bool, error) {
	var ok bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM learned_patterns WHERE domain = $1 AND value = $2 AND source_url = $3)
	`, domainName, value, sourceURL).Scan(&ok)
	return ok, err
}

func (db *DB) Statistics(ctx context.Context, runID string) (domain.LearningStatistics, error) {
	var st domain.LearningStatistics
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE origin = 'external')
		FROM learned_patterns WHERE $1 = '' OR run_id = $1
	`, runID).Scan(&st.TotalLearned, &st.ExternalContributions)
	return st, err
}

// URLPatterns feeds the extractor. The bare root path is excluded since the
// home page is always visited.
func (db *DB) URLPatterns(ctx context.Context, limit int) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT url_pattern FROM learned_patterns
		WHERE url_pattern NOT IN ('', '/')
		GROUP BY url_pattern
		ORDER BY count(*) DESC, url_pattern
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
