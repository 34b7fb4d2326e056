// Package ledger persists completed batch runs to a local SQLite database so
// past artifacts stay inspectable and re-extractable. Artifact text is stored
// zstd-compressed; a run row keeps the settings and sizes.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"obfuslite/internal/batch"
	"obfuslite/internal/digest"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	job             TEXT NOT NULL,
	fingerprint     TEXT NOT NULL,
	status          TEXT NOT NULL,
	seed            INTEGER NOT NULL,
	techniques      TEXT NOT NULL,
	layers          INTEGER NOT NULL,
	original_size   INTEGER NOT NULL,
	obfuscated_size INTEGER NOT NULL,
	warnings        INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	artifact        BLOB
);
CREATE INDEX IF NOT EXISTS runs_job ON runs(job);
`

// Run is one recorded batch run.
type Run struct {
	ID int64
	// Fingerprint identifies the run's configuration (job name, seed,
	// techniques, layers); reruns with the same settings share it.
	Fingerprint    string
	Job            string
	Status         batch.Status
	Seed           int64
	Techniques     []string
	Layers         int
	OriginalSize   int
	ObfuscatedSize int
	Warnings       int
	CreatedAt      time.Time
}

// Ledger wraps the SQLite connection and the shared zstd coders.
type Ledger struct {
	conn *sql.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// Open opens or creates the ledger database at the given path.
func Open(path string) (*Ledger, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	// Enable WAL mode
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Ledger{conn: conn, enc: enc, dec: dec}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.enc.Close()
	l.dec.Close()
	return l.conn.Close()
}

// Record persists one batch result and returns the new run's ID. Failed runs
// are recorded too, with an empty artifact.
func (l *Ledger) Record(res batch.Result) (int64, error) {
	techniques, err := json.Marshal(res.Techniques)
	if err != nil {
		return 0, fmt.Errorf("marshaling techniques: %w", err)
	}

	fingerprint, err := digest.CanonicalDigest(map[string]interface{}{
		"job":        res.Job,
		"seed":       res.Seed,
		"techniques": res.Techniques,
		"layers":     res.Layers,
	})
	if err != nil {
		return 0, fmt.Errorf("fingerprinting run: %w", err)
	}

	var blob []byte
	if res.Artifact != "" {
		blob = l.enc.EncodeAll([]byte(res.Artifact), nil)
	}

	out, err := l.conn.Exec(`
		INSERT INTO runs (job, fingerprint, status, seed, techniques, layers, original_size, obfuscated_size, warnings, created_at, artifact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.Job, fingerprint, string(res.Status), res.Seed, string(techniques), res.Layers,
		res.OriginalSize, res.ObfuscatedSize, len(res.Warnings), time.Now().UnixMilli(), blob)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return out.LastInsertId()
}

// List returns the most recent runs, newest first. limit <= 0 means all.
func (l *Ledger) List(limit int) ([]Run, error) {
	query := `
		SELECT id, job, fingerprint, status, seed, techniques, layers, original_size, obfuscated_size, warnings, created_at
		FROM runs ORDER BY id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			status     string
			techniques string
			createdMs  int64
		)
		if err := rows.Scan(&run.ID, &run.Job, &run.Fingerprint, &status, &run.Seed, &techniques,
			&run.Layers, &run.OriginalSize, &run.ObfuscatedSize, &run.Warnings, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Status = batch.Status(status)
		run.CreatedAt = time.UnixMilli(createdMs)
		if err := json.Unmarshal([]byte(techniques), &run.Techniques); err != nil {
			return nil, fmt.Errorf("run %d: decoding techniques: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Artifact returns the stored artifact text for one run.
func (l *Ledger) Artifact(id int64) (string, error) {
	var blob []byte
	err := l.conn.QueryRow(`SELECT artifact FROM runs WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("run %d not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("loading run %d: %w", id, err)
	}
	if len(blob) == 0 {
		return "", fmt.Errorf("run %d has no artifact", id)
	}

	raw, err := l.dec.DecodeAll(blob, nil)
	if err != nil {
		return "", fmt.Errorf("decompressing artifact of run %d: %w", id, err)
	}
	return string(raw), nil
}
