package extractions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"cim-backend/internal/documents"
	"cim-backend/internal/providers"
	"cim-backend/internal/queue"
	"cim-backend/internal/shared/metrics"
	"cim-backend/internal/shared/storage/object"
	"cim-backend/internal/shared/telemetry"
)

// Service contains business logic for extraction jobs. Synchronous requests
// go straight to the orchestrator; document-backed jobs run through the
// queued lifecycle (queued -> processing -> completed/failed).
type Service struct {
	Repo         Repo
	DocRepo      documents.Repo
	Store        object.ObjectStore
	Orchestrator *Orchestrator
	Queue        queue.Client
}

// RunSync orchestrates one request inline without persisting a job. Used by
// the synchronous extraction endpoint.
func (s *Service) RunSync(ctx context.Context, req Request) (FinalResult, error) {
	if s.Orchestrator == nil {
		return FinalResult{}, errors.New("orchestrator not configured")
	}
	return s.Orchestrator.Run(ctx, req)
}

// StartOrReuse enqueues an extraction job for a stored document, reusing an
// existing job for idempotent requests. A failed job is re-run only when
// allowRetry is set.
func (s *Service) StartOrReuse(ctx context.Context, documentID, owner string, allowRetry bool) (Extraction, bool, error) {
	if documentID == "" {
		return Extraction{}, false, errors.New("documentID is required")
	}

	doc, err := s.DocRepo.GetByID(ctx, documentID)
	if err != nil {
		return Extraction{}, false, fmt.Errorf("document lookup id=%s: %w", documentID, err)
	}

	extraction := Extraction{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Owner:      owner,
		FileName:   doc.FileName,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}

	created, isNew, err := s.Repo.GetOrCreateForDocument(ctx, extraction, allowRetry)
	if err != nil {
		return Extraction{}, false, err
	}
	if isNew {
		s.dispatch(ctx, created.ID)
	}
	return created, isNew, nil
}

// dispatch hands the job to the queue, falling back to an in-process goroutine
// when no queue is configured.
func (s *Service) dispatch(ctx context.Context, extractionID string) {
	if s.Queue != nil {
		msg := queue.Message{
			ExtractionID: extractionID,
			RequestID:    requestIDFromContext(ctx),
			EnqueuedAt:   time.Now().UTC().Format(time.RFC3339),
			Version:      1,
		}
		if err := s.Queue.Send(ctx, msg); err == nil {
			return
		} else {
			telemetry.Error("extraction.enqueue_failed", map[string]any{
				"extraction_id": extractionID,
				"error":         err.Error(),
			})
		}
	}
	go func(ctx context.Context) {
		if err := s.Process(ctx, extractionID); err != nil {
			telemetry.Error("extraction.process_failed", map[string]any{
				"extraction_id": extractionID,
				"error":         err.Error(),
			})
		}
	}(backgroundWithRequestID(ctx))
}

// Get returns an extraction by ID.
func (s *Service) Get(ctx context.Context, extractionID string) (Extraction, error) {
	if extractionID == "" {
		return Extraction{}, errors.New("extractionID is required")
	}
	return s.Repo.GetByID(ctx, extractionID)
}

// List returns extractions for an owner ordered newest-first.
func (s *Service) List(ctx context.Context, owner string, limit, offset int) ([]Extraction, error) {
	return s.Repo.List(ctx, owner, limit, offset)
}

// Process drives one queued job to completion. It is the worker entrypoint
// and is also used by the inline dispatch fallback.
func (s *Service) Process(ctx context.Context, extractionID string) error {
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, extractionID, fmt.Errorf("panic: %v", r), nil)
		}
	}()

	startedAt := time.Now().UTC()
	if err := s.Repo.UpdateStatus(ctx, extractionID, StatusProcessing, nil, nil, nil, nil, &startedAt, nil); err != nil {
		s.fail(ctx, extractionID, fmt.Errorf("set processing failed: %w", err), &startedAt)
		return err
	}

	extraction, err := s.Repo.GetByID(ctx, extractionID)
	if err != nil {
		s.fail(ctx, extractionID, fmt.Errorf("extraction lookup: %w", err), &startedAt)
		return err
	}
	metrics.IncExtractionStarted()
	telemetry.Info("extraction.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"extraction_id":     extraction.ID,
		"document_id":       extraction.DocumentID,
		"status":            StatusProcessing,
		"status_transition": "queued->processing",
	})

	req, err := s.buildRequest(ctx, extraction)
	if err != nil {
		s.fail(ctx, extractionID, err, &startedAt)
		return err
	}

	result, runErr := s.Orchestrator.Run(ctx, req)
	if runErr != nil {
		// Persist the attempt history even when every attempt failed.
		if result.HybridAnalysis != nil {
			if payload, err := resultPayload(result); err == nil {
				_ = s.Repo.UpdateStatus(ctx, extractionID, StatusProcessing, payload, nil, nil, nil, nil, nil)
			}
		}
		s.fail(ctx, extractionID, runErr, &startedAt)
		return runErr
	}

	payload, err := resultPayload(result)
	if err != nil {
		s.fail(ctx, extractionID, fmt.Errorf("result encode: %w", err), &startedAt)
		return err
	}
	completedAt := time.Now().UTC()
	if err := s.Repo.UpdateStatus(ctx, extractionID, StatusCompleted, payload, nil, nil, nil, nil, &completedAt); err != nil {
		s.fail(ctx, extractionID, fmt.Errorf("set result failed: %w", err), &startedAt)
		return err
	}
	metrics.IncExtractionCompleted()
	metrics.ObserveExtractionDurationMs(durationMs(&startedAt, &completedAt))
	telemetry.Info("extraction.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"extraction_id":     extraction.ID,
		"document_id":       extraction.DocumentID,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"selected_method":   result.HybridAnalysis.SelectedMethod,
		"confidence":        result.HybridAnalysis.Confidence,
		"duration_ms":       durationMs(&startedAt, &completedAt),
	})
	return nil
}

// buildRequest loads the stored document and wraps it as an extraction
// request. When upload-time pre-extraction produced a derived text object the
// job ships that text directly and the orchestrator skips the re-parse;
// otherwise it falls back to the raw bytes. Stored documents carry no page
// renders, so jobs always take the text-analysis path; vision runs through the
// synchronous endpoint where the client supplies page images.
func (s *Service) buildRequest(ctx context.Context, extraction Extraction) (Request, error) {
	if s.DocRepo == nil || s.Store == nil {
		return Request{}, errors.New("missing document store dependencies")
	}
	doc, err := s.DocRepo.GetByID(ctx, extraction.DocumentID)
	if err != nil {
		return Request{}, fmt.Errorf("document lookup id=%s: %w", extraction.DocumentID, err)
	}

	if doc.ExtractedTextKey != "" {
		if text, err := s.readStoredText(ctx, doc.ExtractedTextKey); err != nil {
			telemetry.Warn("extraction.derived_text_unavailable", map[string]any{
				"document_id": doc.ID,
				"key":         doc.ExtractedTextKey,
				"error":       err.Error(),
			})
		} else if text != "" {
			return Request{Text: text, FileName: doc.FileName}, nil
		}
	}

	body, err := s.Store.Open(ctx, doc.StorageKey)
	if err != nil {
		return Request{}, fmt.Errorf("document %s open: %w", doc.ID, err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return Request{}, fmt.Errorf("document %s read: %w", doc.ID, err)
	}

	return Request{
		FileBytes: base64.StdEncoding.EncodeToString(raw),
		FileName:  doc.FileName,
	}, nil
}

func (s *Service) readStoredText(ctx context.Context, key string) (string, error) {
	body, err := s.Store.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *Service) fail(ctx context.Context, extractionID string, err error, startedAt *time.Time) {
	code, retryable := classifyFailure(err)
	msg := sanitizeAttemptError(err)
	completedAt := time.Now().UTC()
	if updateErr := s.Repo.UpdateStatus(context.Background(), extractionID, StatusFailed, nil, &code, &msg, &retryable, nil, &completedAt); updateErr != nil {
		telemetry.Error("extraction.fail_update", map[string]any{
			"extraction_id": extractionID,
			"error":         updateErr.Error(),
			"original":      msg,
		})
	}
	metrics.IncExtractionFailed()
	if startedAt != nil {
		metrics.ObserveExtractionDurationMs(durationMs(startedAt, &completedAt))
	}
	telemetry.Info("extraction.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"extraction_id":     extractionID,
		"status":            StatusFailed,
		"status_transition": "processing->failed",
		"error_code":        code,
		"duration_ms":       durationMs(startedAt, &completedAt),
	})
}

func resultPayload(result FinalResult) (map[string]any, error) {
	body := map[string]any{"success": result.Success}
	if result.Data != nil {
		data, err := toMap(result.Data)
		if err != nil {
			return nil, err
		}
		if result.HybridAnalysis != nil {
			hybrid, err := toMap(result.HybridAnalysis)
			if err != nil {
				return nil, err
			}
			data["hybridAnalysis"] = hybrid
		}
		body["data"] = data
	} else if result.HybridAnalysis != nil {
		hybrid, err := toMap(result.HybridAnalysis)
		if err != nil {
			return nil, err
		}
		body["hybridAnalysis"] = hybrid
	}
	return body, nil
}

func toMap(value any) (map[string]any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func classifyFailure(err error) (string, bool) {
	if err == nil {
		return ErrorCodeInternal, false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return ErrorCodeValidation, false
	}
	var agg *AggregateFailure
	if errors.As(err, &agg) {
		return ErrorCodeAllMethodsFailed, true
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return ErrorCodeParseFailure, false
	}
	var perr *providers.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case providers.KindTimeout:
			return ErrorCodeProviderTimeout, true
		case providers.KindAuthError:
			return ErrorCodeProviderFailure, false
		default:
			return ErrorCodeProviderFailure, true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeProviderTimeout, true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		return ErrorCodeProviderTimeout, true
	case strings.Contains(msg, "circuit breaker"):
		return ErrorCodeCircuitOpen, true
	case strings.Contains(msg, "document") || strings.Contains(msg, "storage") || strings.Contains(msg, "set processing") || strings.Contains(msg, "set result"):
		return ErrorCodeStorage, true
	default:
		return ErrorCodeInternal, false
	}
}
