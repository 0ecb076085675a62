package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"savekeeper/internal/catalog/migrations"
	"savekeeper/internal/keeper"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements keeper.Catalog using SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog opens (or creates) a catalog database at path and runs
// pending schema migrations. path can be ":memory:" for an in-memory
// database.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	return &SQLiteCatalog{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Wait for locks instead of failing when sessions for different
	// entities write concurrently.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

func (c *SQLiteCatalog) Record(snap *keeper.Snapshot) error {
	_, err := c.db.Exec(
		`INSERT INTO snapshots (entity_id, stamp, kind, location, size_bytes, complete, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.EntityID, snap.Stamp, string(snap.Kind), snap.Location,
		snap.SizeBytes, boolToInt(snap.Complete), snap.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording snapshot %s: %w", snap.Stamp, err)
	}
	return nil
}

func (c *SQLiteCatalog) MarkComplete(entityID, stamp string, sizeBytes int64) error {
	res, err := c.db.Exec(
		`UPDATE snapshots SET complete = 1, size_bytes = ? WHERE entity_id = ? AND stamp = ?`,
		sizeBytes, entityID, stamp,
	)
	if err != nil {
		return fmt.Errorf("marking snapshot %s complete: %w", stamp, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no recorded snapshot %s for entity %s", stamp, entityID)
	}
	return nil
}

func (c *SQLiteCatalog) Delete(entityID, stamp string) error {
	if _, err := c.db.Exec(
		`DELETE FROM snapshots WHERE entity_id = ? AND stamp = ?`, entityID, stamp,
	); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", stamp, err)
	}
	return nil
}

func (c *SQLiteCatalog) List(entityID string, kinds ...keeper.SnapshotKind) ([]*keeper.Snapshot, error) {
	query := `SELECT entity_id, stamp, kind, location, size_bytes, complete, created_at
		FROM snapshots WHERE entity_id = ? AND complete = 1`
	args := []any{entityID}

	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		query += " AND kind IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY stamp ASC"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []*keeper.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshot rows: %w", err)
	}
	return out, nil
}

func (c *SQLiteCatalog) Find(entityID, stamp string) (*keeper.Snapshot, error) {
	row := c.db.QueryRow(
		`SELECT entity_id, stamp, kind, location, size_bytes, complete, created_at
		 FROM snapshots WHERE entity_id = ? AND stamp = ?`, entityID, stamp,
	)
	snap, err := scanSnapshot(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return snap, nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

func scanSnapshot(scan func(...any) error) (*keeper.Snapshot, error) {
	var snap keeper.Snapshot
	var kind string
	var complete int
	var createdAt time.Time
	if err := scan(&snap.EntityID, &snap.Stamp, &kind, &snap.Location,
		&snap.SizeBytes, &complete, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning snapshot row: %w", err)
	}
	snap.Kind = keeper.SnapshotKind(kind)
	snap.Complete = complete != 0
	snap.CreatedAt = createdAt
	return &snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time check that SQLiteCatalog implements keeper.Catalog
var _ keeper.Catalog = (*SQLiteCatalog)(nil)
