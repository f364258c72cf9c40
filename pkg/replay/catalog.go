package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gwillem/armcollect/pkg/recording"
)

const catalogSchema = `CREATE TABLE IF NOT EXISTS recordings (
	path           TEXT PRIMARY KEY,
	size           INTEGER NOT NULL,
	mtime_ns       INTEGER NOT NULL,
	env_name       TEXT NOT NULL,
	control_method TEXT NOT NULL,
	num_episodes   INTEGER NOT NULL,
	timestamp      TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	episode_steps  TEXT NOT NULL
)`

// Catalog caches archive headers in SQLite so listing a large data
// directory does not reopen every archive. Entries are keyed by path and
// invalidated when the file size or modification time changes.
type Catalog struct {
	sqlDB *sql.DB
}

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(catalogSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (c *Catalog) Close() error {
	if c == nil || c.sqlDB == nil {
		return nil
	}
	return c.sqlDB.Close()
}

// Get returns the cached header for path when size and mtime still match.
func (c *Catalog) Get(ctx context.Context, path string, size int64, mtime time.Time) (recording.Header, bool, error) {
	row := c.sqlDB.QueryRowContext(ctx,
		`SELECT env_name, control_method, num_episodes, timestamp, session_id, episode_steps
		 FROM recordings
		 WHERE path = ? AND size = ? AND mtime_ns = ?`,
		path, size, mtime.UnixNano(),
	)

	var h recording.Header
	var steps string
	if err := row.Scan(&h.EnvName, &h.ControlMethod, &h.NumEpisodes, &h.Timestamp, &h.SessionID, &steps); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return recording.Header{}, false, nil
		}
		return recording.Header{}, false, fmt.Errorf("get catalog entry: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &h.EpisodeSteps); err != nil {
		return recording.Header{}, false, fmt.Errorf("decode episode steps: %w", err)
	}
	return h, true, nil
}

// Put stores the header of the archive at path.
func (c *Catalog) Put(ctx context.Context, path string, size int64, mtime time.Time, h recording.Header) error {
	steps, err := json.Marshal(h.EpisodeSteps)
	if err != nil {
		return fmt.Errorf("encode episode steps: %w", err)
	}
	_, err = c.sqlDB.ExecContext(ctx,
		`INSERT INTO recordings (
		    path, size, mtime_ns, env_name, control_method, num_episodes, timestamp, session_id, episode_steps
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		    size = excluded.size,
		    mtime_ns = excluded.mtime_ns,
		    env_name = excluded.env_name,
		    control_method = excluded.control_method,
		    num_episodes = excluded.num_episodes,
		    timestamp = excluded.timestamp,
		    session_id = excluded.session_id,
		    episode_steps = excluded.episode_steps`,
		path, size, mtime.UnixNano(), h.EnvName, h.ControlMethod, h.NumEpisodes, h.Timestamp, h.SessionID, string(steps),
	)
	if err != nil {
		return fmt.Errorf("put catalog entry: %w", err)
	}
	return nil
}

// Prune removes entries for archives directly in dir whose path is not in keep.
func (c *Catalog) Prune(ctx context.Context, dir string, keep []string) (int64, error) {
	live := make(map[string]bool, len(keep))
	for _, p := range keep {
		live[p] = true
	}

	rows, err := c.sqlDB.QueryContext(ctx, `SELECT path FROM recordings`)
	if err != nil {
		return 0, fmt.Errorf("list catalog entries: %w", err)
	}
	var stale []string
	dir = filepath.Clean(dir)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan catalog entry: %w", err)
		}
		if filepath.Dir(p) == dir && !live[p] {
			stale = append(stale, p)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("list catalog entries: %w", err)
	}
	rows.Close()

	var removed int64
	for _, p := range stale {
		res, err := c.sqlDB.ExecContext(ctx, `DELETE FROM recordings WHERE path = ?`, p)
		if err != nil {
			return removed, fmt.Errorf("delete catalog entry: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}
