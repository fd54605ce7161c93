package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed-width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Store wraps a SQLite database holding the query log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "socq.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Query log ---

// SaveQuery inserts a query record.
func (s *Store) SaveQuery(q QueryRecord) error {
	if q.ID == "" {
		return fmt.Errorf("query record id is required")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO query_log (id, created_at, transport, top_k, latency_ms, outcome, error_kind, request_id, contexts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.CreatedAt.UTC().Format(timeFormat), q.Transport, q.TopK, q.LatencyMs,
		q.Outcome, q.ErrorKind, q.RequestID, q.Contexts,
	)
	return err
}

// GetQuery returns a single query record.
func (s *Store) GetQuery(id string) (QueryRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, transport, top_k, latency_ms, outcome, error_kind, request_id, contexts
		FROM query_log WHERE id = ?`, id,
	)
	q, err := scanQuery(row)
	if err == sql.ErrNoRows {
		return QueryRecord{}, ErrNotFound
	}
	return q, err
}

// RecentQueries returns up to limit records, newest first.
func (s *Store) RecentQueries(limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, transport, top_k, latency_ms, outcome, error_kind, request_id, contexts
		FROM query_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueryRecord
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, q)
	}
	return results, rows.Err()
}

// Stats aggregates the whole query log.
func (s *Store) Stats() (QueryStats, error) {
	var (
		st     QueryStats
		avg    sql.NullFloat64
		lastAt sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN outcome = ? THEN latency_ms END),
			MAX(created_at)
		FROM query_log`, OutcomeError, OutcomeSuccess,
	).Scan(&st.Total, &st.Failures, &avg, &lastAt)
	if err != nil {
		return QueryStats{}, err
	}
	if avg.Valid {
		st.AvgLatencyMs = avg.Float64
	}
	if lastAt.Valid {
		t, err := time.Parse(timeFormat, lastAt.String)
		if err != nil {
			return QueryStats{}, fmt.Errorf("parsing created_at: %w", err)
		}
		st.LastAt = t
	}
	return st, nil
}

// PurgeQueries deletes records created before cutoff and returns how many
// were removed.
func (s *Store) PurgeQueries(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM query_log WHERE created_at < ?`, cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuery(r rowScanner) (QueryRecord, error) {
	var (
		q         QueryRecord
		createdAt string
	)
	if err := r.Scan(&q.ID, &createdAt, &q.Transport, &q.TopK, &q.LatencyMs, &q.Outcome, &q.ErrorKind, &q.RequestID, &q.Contexts); err != nil {
		return QueryRecord{}, err
	}
	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return QueryRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	q.CreatedAt = t
	return q, nil
}
