// Package store persists saved table views in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go sqlite driver

	apiv1 "github.com/wesleyemery/k8s-metrics-tables/api/v1"
)

// ErrNotFound is returned when no saved view has the requested id.
var ErrNotFound = errors.New("saved view not found")

const schema = `
CREATE TABLE IF NOT EXISTS saved_views (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	kind           TEXT NOT NULL,
	filter         TEXT NOT NULL DEFAULT '',
	sort_field     TEXT NOT NULL DEFAULT '',
	sort_direction TEXT NOT NULL DEFAULT '',
	page_size      INTEGER NOT NULL DEFAULT 0,
	last_duration  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saved_views_kind ON saved_views(kind, name);
`

// Store is a SQLite-backed saved-view repository. Pass ":memory:" as the
// path for an ephemeral store.
type Store struct {
	db  *sqlx.DB
	log logr.Logger
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string, log logr.Logger) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	log.V(1).Info("opened saved-view store", "path", path)
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// CreateView inserts a new saved view, assigning its id and timestamps.
func (s *Store) CreateView(ctx context.Context, view *apiv1.SavedView) error {
	if view.ID == "" {
		view.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	view.CreatedAt = now
	view.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_views (id, name, kind, filter, sort_field, sort_direction, page_size, last_duration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		view.ID, view.Name, view.Kind, view.Filter,
		view.SortField, view.SortDirection, view.PageSize, view.LastDuration,
		view.CreatedAt, view.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert saved view: %w", err)
	}
	return nil
}

// GetView loads one saved view by id.
func (s *Store) GetView(ctx context.Context, id string) (apiv1.SavedView, error) {
	var view apiv1.SavedView
	err := s.db.GetContext(ctx, &view, `SELECT * FROM saved_views WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return apiv1.SavedView{}, ErrNotFound
	}
	if err != nil {
		return apiv1.SavedView{}, fmt.Errorf("failed to load saved view %s: %w", id, err)
	}
	return view, nil
}

// ListViews returns saved views ordered by name, optionally filtered to
// one table kind. The result is never nil.
func (s *Store) ListViews(ctx context.Context, kind string) ([]apiv1.SavedView, error) {
	views := []apiv1.SavedView{}
	query := `SELECT * FROM saved_views`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY name ASC, id ASC`

	if err := s.db.SelectContext(ctx, &views, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list saved views: %w", err)
	}
	return views, nil
}

// UpdateView rewrites the client-supplied fields of an existing view.
func (s *Store) UpdateView(ctx context.Context, view *apiv1.SavedView) error {
	view.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE saved_views
		SET name = ?, kind = ?, filter = ?, sort_field = ?, sort_direction = ?, page_size = ?, last_duration = ?, updated_at = ?
		WHERE id = ?
	`,
		view.Name, view.Kind, view.Filter,
		view.SortField, view.SortDirection, view.PageSize, view.LastDuration,
		view.UpdatedAt, view.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update saved view %s: %w", view.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteView removes a saved view by id.
func (s *Store) DeleteView(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_views WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete saved view %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
