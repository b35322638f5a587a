package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RichLycus/ProjekUtama-sub000/internal/data"
)

// SQLiteStore persists entries in the result_cache table. Every mutation
// runs in a single transaction. Times are stored as unix nanoseconds.
type SQLiteStore struct {
	db *data.Store
}

// NewSQLiteStore wraps an open database. The caller keeps ownership of db
// unless Close is called.
func NewSQLiteStore(db *data.Store) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Name() string { return "sqlite" }

const selectEntry = `SELECT cache_key, value, tier, ttl_ns, created_at, accessed_at, access_count, metadata
	FROM result_cache`

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.DB().QueryRowContext(ctx, selectEntry+` WHERE cache_key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, backendErr(s.Name(), "get", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                      Entry
		value                  []byte
		ttl, created, accessed int64
		metadata               string
	)
	if err := row.Scan(&e.Key, &value, &e.Tier, &ttl, &created, &accessed, &e.AccessCount, &metadata); err != nil {
		return nil, err
	}
	e.Value = value
	e.TTL = time.Duration(ttl)
	e.CreatedAt = time.Unix(0, created)
	e.AccessedAt = time.Unix(0, accessed)
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %q: %w", e.Key, err)
		}
	}
	return &e, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e *Entry, maxEntries int) (int, error) {
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return 0, fmt.Errorf("encode metadata: %w", err)
		}
	}

	evicted := 0
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if maxEntries > 0 {
			var exists, count int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*), COALESCE(SUM(cache_key = ?), 0) FROM result_cache`, e.Key,
			).Scan(&count, &exists); err != nil {
				return fmt.Errorf("count entries: %w", err)
			}
			if exists == 0 && count >= maxEntries {
				res, err := tx.ExecContext(ctx, `DELETE FROM result_cache WHERE cache_key IN (
					SELECT cache_key FROM result_cache ORDER BY accessed_at ASC, cache_key ASC LIMIT ?)`,
					evictCount(count))
				if err != nil {
					return fmt.Errorf("evict: %w", err)
				}
				n, _ := res.RowsAffected()
				evicted = int(n)
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO result_cache
			(cache_key, value, tier, ttl_ns, created_at, accessed_at, access_count, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET
				value = excluded.value,
				tier = excluded.tier,
				ttl_ns = excluded.ttl_ns,
				created_at = excluded.created_at,
				accessed_at = excluded.accessed_at,
				access_count = excluded.access_count,
				metadata = excluded.metadata`,
			e.Key, []byte(e.Value), e.Tier, int64(e.TTL), e.CreatedAt.UnixNano(), e.AccessedAt.UnixNano(),
			e.AccessCount, string(metadata))
		return err
	})
	if err != nil {
		return 0, backendErr(s.Name(), "put", err)
	}
	return evicted, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, key string, at time.Time) error {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE result_cache SET accessed_at = ?, access_count = access_count + 1 WHERE cache_key = ?`,
		at.UnixNano(), key)
	if err != nil {
		return backendErr(s.Name(), "touch", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.DB().ExecContext(ctx, `DELETE FROM result_cache WHERE cache_key = ?`, key)
	if err != nil {
		return false, backendErr(s.Name(), "delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, tier string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if tier == "" {
		res, err = s.db.DB().ExecContext(ctx, `DELETE FROM result_cache`)
	} else {
		res, err = s.db.DB().ExecContext(ctx, `DELETE FROM result_cache WHERE tier = ?`, tier)
	}
	if err != nil {
		return 0, backendErr(s.Name(), "clear", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM result_cache WHERE created_at + ttl_ns <= ?`, now.UnixNano())
	if err != nil {
		return 0, backendErr(s.Name(), "delete expired", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM result_cache`).Scan(&n); err != nil {
		return 0, backendErr(s.Name(), "count", err)
	}
	return n, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	st := StoreStats{ByTier: make(map[string]int)}

	rows, err := s.db.DB().QueryContext(ctx, `SELECT tier, COUNT(*) FROM result_cache GROUP BY tier`)
	if err != nil {
		return st, backendErr(s.Name(), "stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return st, backendErr(s.Name(), "stats", err)
		}
		st.ByTier[tier] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return st, backendErr(s.Name(), "stats", err)
	}
	// release the single connection before the next query
	rows.Close()
	if st.Total == 0 {
		return st, nil
	}

	var avgTTL float64
	var oldest, newest int64
	err = s.db.DB().QueryRowContext(ctx,
		`SELECT AVG(ttl_ns), MIN(created_at), MAX(created_at) FROM result_cache`,
	).Scan(&avgTTL, &oldest, &newest)
	if err != nil {
		return st, backendErr(s.Name(), "stats", err)
	}
	st.AverageTTL = time.Duration(avgTTL)
	st.Oldest = time.Unix(0, oldest)
	st.Newest = time.Unix(0, newest)
	return st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
