package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WatermarkStore = (*WatermarkRepo)(nil)

// WatermarkRepo is the SQLite implementation of the WatermarkStore port interface.
type WatermarkRepo struct {
	db *DB
}

// NewWatermarkRepo creates a new WatermarkRepo backed by the given DB.
func NewWatermarkRepo(db *DB) *WatermarkRepo {
	return &WatermarkRepo{db: db}
}

// SaveWatermarks upserts all cursors in one transaction. A stored cursor is
// never moved backwards.
func (w *WatermarkRepo) SaveWatermarks(ctx context.Context, marks map[driven.WatermarkKey]time.Time) error {
	if len(marks) == 0 {
		return nil
	}

	const query = `
		INSERT INTO watermarks (name, event_type, cursor) VALUES (?, ?, ?)
		ON CONFLICT(name, event_type) DO UPDATE SET cursor = excluded.cursor
		WHERE excluded.cursor > watermarks.cursor`

	return withTx(ctx, w.db.Writer, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare watermark upsert: %w", err)
		}
		defer stmt.Close()

		for key, cursor := range marks {
			if _, err := stmt.ExecContext(ctx, key.RepoFullName, string(key.EventType), formatCursor(cursor)); err != nil {
				return fmt.Errorf("save watermark %s/%s: %w", key.RepoFullName, key.EventType, err)
			}
		}
		return nil
	})
}

// LoadWatermarks returns every persisted cursor.
func (w *WatermarkRepo) LoadWatermarks(ctx context.Context) (map[driven.WatermarkKey]time.Time, error) {
	rows, err := w.db.Reader.QueryContext(ctx, `SELECT name, event_type, cursor FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("load watermarks: %w", err)
	}
	defer rows.Close()

	marks := make(map[driven.WatermarkKey]time.Time)
	for rows.Next() {
		var name, eventType, cursor string
		if err := rows.Scan(&name, &eventType, &cursor); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		ts, err := parseTime(cursor)
		if err != nil {
			return nil, fmt.Errorf("parse watermark %s/%s: %w", name, eventType, err)
		}
		marks[driven.WatermarkKey{RepoFullName: name, EventType: model.EventType(eventType)}] = ts
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}

	return marks, nil
}

// formatCursor uses a fixed-width layout so cursors compare correctly as text.
func formatCursor(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
