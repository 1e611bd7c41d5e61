package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WatermarkStore = (*WatermarkRepo)(nil)

// WatermarkRepo is the PostgreSQL implementation of the WatermarkStore port interface.
type WatermarkRepo struct {
	pool *pgxpool.Pool
}

// NewWatermarkRepo creates a WatermarkRepo backed by pool.
func NewWatermarkRepo(pool *pgxpool.Pool) *WatermarkRepo {
	return &WatermarkRepo{pool: pool}
}

// SaveWatermarks upserts all cursors in one batch. A stored cursor is never
// moved backwards.
func (w *WatermarkRepo) SaveWatermarks(ctx context.Context, marks map[driven.WatermarkKey]time.Time) error {
	if len(marks) == 0 {
		return nil
	}

	const query = `
		INSERT INTO watermarks (name, event_type, cursor) VALUES ($1, $2, $3)
		ON CONFLICT (name, event_type) DO UPDATE SET cursor = EXCLUDED.cursor
		WHERE EXCLUDED.cursor > watermarks.cursor`

	return inTx(ctx, w.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for key, cursor := range marks {
			batch.Queue(query, key.RepoFullName, string(key.EventType), cursor.UTC())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save watermarks: %w", err)
		}
		return nil
	})
}

// LoadWatermarks returns every persisted cursor.
func (w *WatermarkRepo) LoadWatermarks(ctx context.Context) (map[driven.WatermarkKey]time.Time, error) {
	rows, err := w.pool.Query(ctx, `SELECT name, event_type, cursor FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("load watermarks: %w", err)
	}
	defer rows.Close()

	marks := make(map[driven.WatermarkKey]time.Time)
	for rows.Next() {
		var name, eventType string
		var cursor time.Time
		if err := rows.Scan(&name, &eventType, &cursor); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		marks[driven.WatermarkKey{RepoFullName: name, EventType: model.EventType(eventType)}] = cursor.UTC()
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return marks, nil
}
