package documents

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"cim-backend/internal/extract"
	"cim-backend/internal/shared/storage/object"
	"cim-backend/internal/shared/telemetry"
)

// Service contains business logic for documents.
type Service struct {
	Store object.ObjectStore
	Repo  Repo
}

// Upload saves the file to object storage and records the document. Text is
// pre-extracted eagerly so later extraction jobs can skip the PDF parse; a
// pre-extraction failure is logged but does not fail the upload, since the
// orchestrator re-extracts from the stored bytes when no derived text exists.
func (s *Service) Upload(ctx context.Context, owner, fileName string, r io.Reader) (Document, error) {
	if fileName == "" {
		return Document{}, ErrInvalidInput
	}

	storageKey, size, mimeType, err := s.Store.Save(ctx, owner, fileName, r)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		ID:         uuid.NewString(),
		Owner:      owner,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  size,
		StorageKey: storageKey,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}

	if _, err := extract.Text(ctx, s.Store, doc.StorageKey, doc.MimeType, doc.FileName); err != nil {
		telemetry.Warn("document.pre_extract_failed", map[string]any{
			"document_id": doc.ID,
			"mime_type":   doc.MimeType,
			"error":       err.Error(),
		})
	} else {
		extractedAt := time.Now().UTC()
		extractedKey := doc.StorageKey + extract.DerivedTextSuffix
		if err := s.Repo.UpdateExtraction(ctx, doc.ID, extractedKey, extractedAt); err == nil {
			doc.ExtractedTextKey = extractedKey
			doc.ExtractedAt = &extractedAt
		}
	}

	return doc, nil
}

// Get returns a document by ID.
func (s *Service) Get(ctx context.Context, documentID string) (Document, error) {
	if documentID == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, documentID)
}

// List returns documents for an owner, newest first.
func (s *Service) List(ctx context.Context, owner string, limit, offset int) ([]Document, error) {
	return s.Repo.List(ctx, owner, limit, offset)
}
