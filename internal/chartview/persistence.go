package chartview

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists the pending selection per week to SQLite so a half-built
// ballot survives a restart. Stale ids are handled by the caller pruning
// against the freshly fetched dataset, same as an in-session selection.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the selection database. If dbPath is empty
// the default state-dir location is used.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		var err error
		dbPath, err = defaultSelectionDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve selection db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open selection db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func defaultSelectionDBPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "deerzone", "state", "selection.db"), nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := `CREATE TABLE IF NOT EXISTS selection_items (
		week_id INTEGER NOT NULL,
		song_id INTEGER NOT NULL,
		PRIMARY KEY (week_id, song_id)
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate selection schema: %w", err)
	}
	return nil
}

// Save replaces the persisted selection for a week.
func (s *Store) Save(ctx context.Context, weekID int, ids []int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM selection_items WHERE week_id = ?`, weekID); err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO selection_items (week_id, song_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, weekID, id); err != nil {
			return fmt.Errorf("insert song %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load reads the persisted selection for a week in ascending id order.
func (s *Store) Load(ctx context.Context, weekID int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT song_id FROM selection_items WHERE week_id = ? ORDER BY song_id ASC`, weekID)
	if err != nil {
		return nil, fmt.Errorf("load selection: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan song id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selection: %w", err)
	}
	return ids, nil
}

// Clear removes the persisted selection for a week.
func (s *Store) Clear(ctx context.Context, weekID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM selection_items WHERE week_id = ?`, weekID)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
