package extractions

import (
	"context"
	"time"
)

// Repo defines persistence operations for extraction jobs.
type Repo interface {
	Create(ctx context.Context, extraction Extraction) error
	GetByID(ctx context.Context, extractionID string) (Extraction, error)
	// GetOrCreateForDocument returns the latest extraction for a document or
	// creates a new one; the bool reports whether a new job was created.
	GetOrCreateForDocument(ctx context.Context, extraction Extraction, allowRetry bool) (Extraction, bool, error)
	UpdateStatus(ctx context.Context, extractionID, status string, result map[string]any, errorCode, errorMessage *string, retryable *bool, startedAt, completedAt *time.Time) error
	List(ctx context.Context, owner string, limit, offset int) ([]Extraction, error)
}
