// Package metrics records one row per handled request and aggregates them
// for the CLI: per-mode success and latency, daily rollups and a live
// session dashboard.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RichLycus/ProjekUtama-sub000/internal/data"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// RequestMetric records a single handled request.
type RequestMetric struct {
	ID        int64         `json:"id,omitempty"`
	Mode      string        `json:"mode"`
	Pipeline  string        `json:"pipeline"`
	FlowID    string        `json:"flow_id,omitempty"`
	Model     string        `json:"model,omitempty"`
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	CacheHit  bool          `json:"cache_hit"`
	Fallback  bool          `json:"fallback"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// DailyStats contains aggregated metrics for a single day.
type DailyStats struct {
	Date         string  `json:"date"` // YYYY-MM-DD
	Requests     int64   `json:"requests"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	CacheHits    int64   `json:"cache_hits"`
	Fallbacks    int64   `json:"fallbacks"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// ModeStats contains per-mode metrics.
type ModeStats struct {
	Mode         string  `json:"mode"`
	Requests     int64   `json:"requests"`
	SuccessRate  float64 `json:"success_rate"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs int64   `json:"max_latency_ms"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS STORE
// ═══════════════════════════════════════════════════════════════════════════════

// Store persists request metrics in SQLite. The schema comes from the data
// package migrations.
type Store struct {
	db *data.Store
}

// NewStore creates a metrics store on an open database.
func NewStore(db *data.Store) *Store {
	return &Store{db: db}
}

// Record inserts the request row and bumps the daily rollup in one
// transaction.
func (s *Store) Record(ctx context.Context, m *RequestMetric) error {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	latencyMs := m.Latency.Milliseconds()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO request_metrics
				(mode, pipeline, flow_id, model, status, latency_ms, success, cache_hit, fallback, error_msg, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.Mode, m.Pipeline, m.FlowID, m.Model, m.Status, latencyMs,
			boolToInt(m.Success), boolToInt(m.CacheHit), boolToInt(m.Fallback), m.Error, created.UnixNano())
		if err != nil {
			return fmt.Errorf("record request: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			m.ID = id
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO metrics_daily (date, total_requests, successes, failures, cache_hits, fallbacks, total_latency_ms)
			VALUES (?, 1, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				total_requests = total_requests + 1,
				successes = successes + excluded.successes,
				failures = failures + excluded.failures,
				cache_hits = cache_hits + excluded.cache_hits,
				fallbacks = fallbacks + excluded.fallbacks,
				total_latency_ms = total_latency_ms + excluded.total_latency_ms
		`, created.Format(time.DateOnly), boolToInt(m.Success), boolToInt(!m.Success),
			boolToInt(m.CacheHit), boolToInt(m.Fallback), latencyMs)
		if err != nil {
			return fmt.Errorf("update daily stats: %w", err)
		}
		return nil
	})
}

// ByMode aggregates requests recorded at or after since, ordered by mode.
func (s *Store) ByMode(ctx context.Context, since time.Time) ([]ModeStats, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT mode,
		       COUNT(*),
		       AVG(success),
		       AVG(cache_hit),
		       AVG(latency_ms),
		       MAX(latency_ms)
		FROM request_metrics
		WHERE created_at >= ?
		GROUP BY mode
		ORDER BY mode
	`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query mode stats: %w", err)
	}
	defer rows.Close()

	var out []ModeStats
	for rows.Next() {
		var ms ModeStats
		if err := rows.Scan(&ms.Mode, &ms.Requests, &ms.SuccessRate, &ms.CacheHitRate, &ms.AvgLatencyMs, &ms.MaxLatencyMs); err != nil {
			return nil, fmt.Errorf("scan mode stats: %w", err)
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// Daily returns up to days rollups, most recent first.
func (s *Store) Daily(ctx context.Context, days int) ([]DailyStats, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT date, total_requests, successes, failures, cache_hits, fallbacks,
		       CASE WHEN total_requests > 0 THEN CAST(total_latency_ms AS REAL) / total_requests ELSE 0 END
		FROM metrics_daily
		ORDER BY date DESC
		LIMIT ?
	`, days)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Date, &d.Requests, &d.Successes, &d.Failures, &d.CacheHits, &d.Fallbacks, &d.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan daily stats: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Recent returns the last n requests, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]RequestMetric, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, mode, pipeline, flow_id, model, status, latency_ms, success, cache_hit, fallback, error_msg, created_at
		FROM request_metrics
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent requests: %w", err)
	}
	defer rows.Close()

	var out []RequestMetric
	for rows.Next() {
		var (
			m                           RequestMetric
			latencyMs, created          int64
			success, cacheHit, fallback int
		)
		if err := rows.Scan(&m.ID, &m.Mode, &m.Pipeline, &m.FlowID, &m.Model, &m.Status,
			&latencyMs, &success, &cacheHit, &fallback, &m.Error, &created); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		m.Latency = time.Duration(latencyMs) * time.Millisecond
		m.Success = success == 1
		m.CacheHit = cacheHit == 1
		m.Fallback = fallback == 1
		m.CreatedAt = time.Unix(0, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Prune deletes request rows older than before. Daily rollups are kept.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.DB().ExecContext(ctx, `DELETE FROM request_metrics WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune requests: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
