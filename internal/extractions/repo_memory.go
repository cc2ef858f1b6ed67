package extractions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores extractions in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]Extraction
	byOwner map[string][]string
	byDoc   map[string][]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]Extraction),
		byOwner: make(map[string][]string),
		byDoc:   make(map[string][]string),
	}
}

// Create stores the extraction.
func (r *MemoryRepo) Create(ctx context.Context, extraction Extraction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.create(extraction)
	return nil
}

func (r *MemoryRepo) create(extraction Extraction) {
	r.byID[extraction.ID] = extraction
	r.byOwner[extraction.Owner] = append(r.byOwner[extraction.Owner], extraction.ID)
	if extraction.DocumentID != "" {
		r.byDoc[extraction.DocumentID] = append(r.byDoc[extraction.DocumentID], extraction.ID)
	}
}

// GetByID returns an extraction by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, extractionID string) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	extraction, ok := r.byID[extractionID]
	if !ok {
		return Extraction{}, ErrNotFound
	}
	return extraction, nil
}

// GetOrCreateForDocument returns the latest extraction for a document or
// creates the given one. Queued, processing, and completed jobs are reused;
// a failed job is reused unless allowRetry is set.
func (r *MemoryRepo) GetOrCreateForDocument(ctx context.Context, extraction Extraction, allowRetry bool) (Extraction, bool, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byDoc[extraction.DocumentID]
	var latest *Extraction
	for _, id := range ids {
		e := r.byID[id]
		if e.Owner != extraction.Owner {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			copied := e
			latest = &copied
		}
	}
	if latest != nil {
		if latest.Status != StatusFailed || !allowRetry {
			return *latest, false, nil
		}
	}

	r.create(extraction)
	return extraction, true, nil
}

// UpdateStatus updates status, result, error fields, and timestamps.
func (r *MemoryRepo) UpdateStatus(ctx context.Context, extractionID, status string, result map[string]any, errorCode, errorMessage *string, retryable *bool, startedAt, completedAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	extraction, ok := r.byID[extractionID]
	if !ok {
		return ErrNotFound
	}
	extraction.Status = status
	if result != nil {
		extraction.Result = result
	}
	if errorCode != nil {
		extraction.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		extraction.ErrorMessage = *errorMessage
	}
	if retryable != nil {
		extraction.Retryable = *retryable
	}
	if startedAt != nil {
		extraction.StartedAt = startedAt
	} else if status == StatusProcessing && extraction.StartedAt == nil {
		now := time.Now().UTC()
		extraction.StartedAt = &now
	}
	if completedAt != nil {
		extraction.CompletedAt = completedAt
	} else if (status == StatusCompleted || status == StatusFailed) && extraction.CompletedAt == nil {
		now := time.Now().UTC()
		extraction.CompletedAt = &now
	}
	extraction.UpdatedAt = time.Now().UTC()
	r.byID[extractionID] = extraction
	return nil
}

// List returns extractions for an owner, newest first, with limit/offset.
func (r *MemoryRepo) List(ctx context.Context, owner string, limit, offset int) ([]Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	ids := r.byOwner[owner]
	extractions := make([]Extraction, 0, len(ids))
	for _, id := range ids {
		extractions = append(extractions, r.byID[id])
	}
	r.mu.RUnlock()

	sort.Slice(extractions, func(i, j int) bool {
		return extractions[i].CreatedAt.After(extractions[j].CreatedAt)
	})

	if offset >= len(extractions) {
		return []Extraction{}, nil
	}
	end := len(extractions)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return extractions[offset:end], nil
}

var _ Repo = (*MemoryRepo)(nil)
