package pipeline

import (
	"database/sql"
	"fmt"
	"runtime"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Cache indexes generated artifacts by (spec_hash, target_triple,
// backend_version). A hit means a previous run on this platform and
// backend already produced these exact bytes; generate can skip work or
// verify reproducibility against it.
type Cache struct {
	db     *sql.DB
	triple string
}

// TargetTriple identifies the platform partition of the cache space.
func TargetTriple() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// OpenCache opens or creates the artifact cache database.
func OpenCache(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	c := &Cache{db: db, triple: TargetTriple()}
	if err := c.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"db_path": dbPath,
		"triple":  c.triple,
	}).Debug("artifact cache opened")

	return c, nil
}

func (c *Cache) createTables() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			spec_hash       TEXT NOT NULL,
			target_triple   TEXT NOT NULL,
			backend_version TEXT NOT NULL,
			output_path     TEXT NOT NULL,
			artifact_hash   TEXT NOT NULL,
			PRIMARY KEY (spec_hash, target_triple, backend_version, output_path)
		)`)
	if err != nil {
		return fmt.Errorf("create cache schema: %w", err)
	}
	return nil
}

// Store records every output hash of a completed run.
func (c *Cache) Store(specHash string, report *Report) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	for _, out := range report.Outputs {
		if out.Hash == "" {
			continue
		}
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO artifacts
			(spec_hash, target_triple, backend_version, output_path, artifact_hash)
			VALUES (?, ?, ?, ?, ?)`,
			specHash, c.triple, BackendVersion, out.Path, out.Hash)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Lookup returns the recorded hash for one output of a spec, if any.
func (c *Cache) Lookup(specHash, outputPath string) (string, bool, error) {
	var hash string
	err := c.db.QueryRow(`
		SELECT artifact_hash FROM artifacts
		WHERE spec_hash = ? AND target_triple = ? AND backend_version = ? AND output_path = ?`,
		specHash, c.triple, BackendVersion, outputPath).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
