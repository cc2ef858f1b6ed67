package extractions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const extractionColumns = `
id, document_id, owner, file_name, status, result,
error_code, error_message, retryable,
started_at, completed_at, created_at, updated_at`

// Create inserts a new extraction.
func (r *PGRepo) Create(ctx context.Context, extraction Extraction) error {
	const query = `
INSERT INTO extractions (id, document_id, owner, file_name, status, result, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`
	payload, err := marshalJSONB(extraction.Result)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		extraction.ID,
		nullIfEmpty(extraction.DocumentID),
		extraction.Owner,
		extraction.FileName,
		extraction.Status,
		payload,
		extraction.CreatedAt,
	)
	return err
}

// GetByID returns an extraction by ID.
func (r *PGRepo) GetByID(ctx context.Context, extractionID string) (Extraction, error) {
	query := `SELECT ` + extractionColumns + `
FROM extractions
WHERE id = $1
LIMIT 1`
	return scanExtraction(r.DB.QueryRowContext(ctx, query, extractionID))
}

// GetOrCreateForDocument returns the latest extraction for a document or
// creates a new one, serializing per document to avoid duplicate jobs.
func (r *PGRepo) GetOrCreateForDocument(ctx context.Context, extraction Extraction, allowRetry bool) (Extraction, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Extraction{}, false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, extraction.DocumentID); err != nil {
		return Extraction{}, false, err
	}

	query := `SELECT ` + extractionColumns + `
FROM extractions
WHERE document_id = $1 AND owner IS NOT DISTINCT FROM NULLIF($2, '')
ORDER BY created_at DESC
LIMIT 1`
	latest, err := scanExtraction(tx.QueryRowContext(ctx, query, extraction.DocumentID, extraction.Owner))
	if err == nil {
		if latest.Status != StatusFailed || !allowRetry {
			if err := tx.Commit(); err != nil {
				return Extraction{}, false, err
			}
			return latest, false, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Extraction{}, false, err
	}

	const insert = `
INSERT INTO extractions (id, document_id, owner, file_name, status, result, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`
	payload, err := marshalJSONB(extraction.Result)
	if err != nil {
		return Extraction{}, false, err
	}
	if _, err := tx.ExecContext(ctx, insert,
		extraction.ID,
		nullIfEmpty(extraction.DocumentID),
		extraction.Owner,
		extraction.FileName,
		extraction.Status,
		payload,
		extraction.CreatedAt,
	); err != nil {
		return Extraction{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Extraction{}, false, err
	}
	return extraction, true, nil
}

// UpdateStatus updates status, result, error fields, and timestamps.
func (r *PGRepo) UpdateStatus(ctx context.Context, extractionID, status string, result map[string]any, errorCode, errorMessage *string, retryable *bool, startedAt, completedAt *time.Time) error {
	const query = `
UPDATE extractions
SET status = $1,
    result = COALESCE($2::jsonb, result),
    error_code = COALESCE($3::text, error_code),
    error_message = COALESCE($4::text, error_message),
    retryable = CASE
        WHEN $5::boolean IS NOT NULL THEN $5::boolean
        ELSE retryable
    END,
    started_at = CASE
        WHEN $6::timestamptz IS NOT NULL THEN $6::timestamptz
        WHEN $1 = 'processing' AND started_at IS NULL THEN now()
        ELSE started_at
    END,
    completed_at = CASE
        WHEN $7::timestamptz IS NOT NULL THEN $7::timestamptz
        WHEN ($1 = 'completed' OR $1 = 'failed') AND completed_at IS NULL THEN now()
        ELSE completed_at
    END,
    updated_at = now()
WHERE id = $8::uuid`

	var payload any
	var err error
	if result != nil {
		payload, err = json.Marshal(result)
		if err != nil {
			return err
		}
	}

	res, err := r.DB.ExecContext(ctx, query, status, payload, errorCode, errorMessage, retryable, startedAt, completedAt, extractionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List lists extractions for an owner ordered newest-first.
func (r *PGRepo) List(ctx context.Context, owner string, limit, offset int) ([]Extraction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + extractionColumns + `
FROM extractions
WHERE owner IS NOT DISTINCT FROM NULLIF($1, '')
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, owner, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Extraction
	for rows.Next() {
		e, err := scanExtractionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtraction(row *sql.Row) (Extraction, error) {
	e, err := scanExtractionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Extraction{}, ErrNotFound
		}
		return Extraction{}, err
	}
	return e, nil
}

func scanExtractionRow(row rowScanner) (Extraction, error) {
	var e Extraction
	var documentID sql.NullString
	var owner sql.NullString
	var result sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var retryable sql.NullBool
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	if err := row.Scan(
		&e.ID,
		&documentID,
		&owner,
		&e.FileName,
		&e.Status,
		&result,
		&errorCode,
		&errorMessage,
		&retryable,
		&startedAt,
		&completedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return Extraction{}, err
	}
	if documentID.Valid {
		e.DocumentID = documentID.String
	}
	if owner.Valid {
		e.Owner = owner.String
	}
	if result.Valid {
		e.Result = map[string]any{}
		if err := json.Unmarshal([]byte(result.String), &e.Result); err != nil {
			e.Result = nil
		}
	}
	if errorCode.Valid {
		e.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		e.ErrorMessage = errorMessage.String
	}
	if retryable.Valid {
		e.Retryable = retryable.Bool
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, nil
}

func marshalJSONB(value any) ([]byte, error) {
	if value == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(value)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
