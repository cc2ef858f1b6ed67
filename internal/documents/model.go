package documents

import "time"

// Document is an uploaded CIM file tracked for extraction. Owner is an
// opaque caller identity; documents uploaded anonymously carry an empty one.
type Document struct {
	ID               string
	Owner            string
	FileName         string
	MimeType         string
	SizeBytes        int64
	StorageKey       string
	ExtractedTextKey string
	ExtractedAt      *time.Time
	CreatedAt        time.Time
}
