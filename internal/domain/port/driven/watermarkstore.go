package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

// WatermarkKey identifies one watermark cursor.
type WatermarkKey struct {
	RepoFullName string
	EventType    model.EventType
}

// WatermarkStore persists watermark cursors across restarts. It is only used
// when watermark persistence is enabled; the live cursors stay in memory.
type WatermarkStore interface {
	// SaveWatermarks upserts all given cursors in a single transaction.
	SaveWatermarks(ctx context.Context, marks map[WatermarkKey]time.Time) error
	LoadWatermarks(ctx context.Context) (map[WatermarkKey]time.Time, error)
}

// Cursors of a removed repository are deleted by RepoStore.Remove, in the same
// transaction as the repository row.
