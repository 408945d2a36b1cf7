// Package history provides SQLite-based persistence for generation runs and
// conversation messages, bounded by a byte budget. Eviction is oldest-first
// and proactive: the store never exceeds its budget after an append returns.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/imagen-go/internal/config"
	"github.com/comigor/imagen-go/internal/extract"
	"github.com/comigor/imagen-go/internal/logger"
)

const (
	kindRun     = "run"
	kindMessage = "message"
)

// Store is the bounded history store. It is injected into the components
// that persist results; all mutation happens through it.
type Store struct {
	db  *sql.DB
	cfg config.HistoryConfig
}

// Open opens (creating if needed) the history database at cfg.Path.
func Open(cfg config.HistoryConfig) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+cfg.Path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE,
        kind TEXT,
        body TEXT,
        created_at DATETIME
    );`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}
	return &Store{db: db, cfg: cfg}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// AppendRun persists a completed generation run and enforces the byte
// budget. The run's primary image URL must already carry an allowed scheme;
// anything else is rejected before touching storage.
func (s *Store) AppendRun(run Run) error {
	if _, ok := extract.ValidateURL(run.PrimaryImageURL); !ok {
		return fmt.Errorf("run %s: image url scheme not allowed", run.ID)
	}
	if run.DurationSeconds < 0 {
		run.DurationSeconds = 0
	}
	return s.append(run.ID, kindRun, run, run.CreatedAt)
}

// AppendMessage persists a finished conversation message and enforces the
// byte budget.
func (s *Store) AppendMessage(msg Message) error {
	return s.append(msg.ID, kindMessage, msg, msg.Timestamp)
}

// append performs the whole read-modify-write as one transaction so an
// interleaved delete can never resurrect evicted state.
func (s *Store) append(id, kind string, entry any, createdAt time.Time) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO entries (id, kind, body, created_at) VALUES (?,?,?,?);`,
		id, kind, string(body), createdAt,
	); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	if err := s.enforceBudget(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// enforceBudget applies the soft count trim, then evicts oldest-first until
// the serialized size fits the byte budget. Under pressure it trims down to
// the configured minimum and warns rather than failing the write.
func (s *Store) enforceBudget(tx *sql.Tx) error {
	// Soft threshold: retain the most recent N proactively.
	if s.cfg.SoftTrimAt > 0 {
		if err := retainNewest(tx, s.cfg.SoftTrimAt); err != nil {
			return err
		}
	}

	size, count, err := storedSize(tx)
	if err != nil {
		return err
	}
	if size <= s.cfg.ByteBudget {
		return nil
	}

	// Still over budget after the soft trim: fall back to the pressure
	// minimum, then keep evicting oldest-first.
	if s.cfg.MinTrim > 0 && count > s.cfg.MinTrim {
		logger.L.Warn("history storage pressure, trimming to minimum",
			"size", size, "budget", s.cfg.ByteBudget, "retain", s.cfg.MinTrim)
		if err := retainNewest(tx, s.cfg.MinTrim); err != nil {
			return err
		}
		size, count, err = storedSize(tx)
		if err != nil {
			return err
		}
	}

	for size > s.cfg.ByteBudget && count > 0 {
		logger.L.Warn("history storage pressure, evicting oldest entry",
			"size", size, "budget", s.cfg.ByteBudget)
		if _, err := tx.Exec(
			`DELETE FROM entries WHERE seq = (SELECT MIN(seq) FROM entries);`,
		); err != nil {
			return fmt.Errorf("evict history entry: %w", err)
		}
		size, count, err = storedSize(tx)
		if err != nil {
			return err
		}
	}
	return nil
}

func retainNewest(tx *sql.Tx, n int) error {
	_, err := tx.Exec(
		`DELETE FROM entries WHERE seq NOT IN (SELECT seq FROM entries ORDER BY seq DESC LIMIT ?);`, n,
	)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// storedSize measures the serialized size of all stored keys and values.
func storedSize(tx *sql.Tx) (int64, int, error) {
	var size sql.NullInt64
	var count int
	err := tx.QueryRow(
		`SELECT COALESCE(SUM(LENGTH(id) + LENGTH(body)), 0), COUNT(*) FROM entries;`,
	).Scan(&size, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("measure history size: %w", err)
	}
	return size.Int64, count, nil
}

// Runs returns all stored generation runs, oldest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT body FROM entries WHERE kind = ? ORDER BY seq ASC;`, kindRun)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r Run
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			logger.L.Warn("skipping undecodable history row", "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Messages returns all stored conversation messages, oldest first.
func (s *Store) Messages() ([]Message, error) {
	rows, err := s.db.Query(`SELECT body FROM entries WHERE kind = ? ORDER BY seq ASC;`, kindMessage)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			logger.L.Warn("skipping undecodable history row", "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes one entry by id. The post-deletion state is persisted
// immediately; deleting an unknown id is not an error.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM entries WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	return nil
}

// Clear drops all stored history. Exposed as the explicit teardown of the
// process-wide persisted state.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM entries;`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Size reports the current serialized size and entry count.
func (s *Store) Size() (int64, int, error) {
	var size sql.NullInt64
	var count int
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(LENGTH(id) + LENGTH(body)), 0), COUNT(*) FROM entries;`,
	).Scan(&size, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("measure history size: %w", err)
	}
	return size.Int64, count, nil
}
