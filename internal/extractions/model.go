package extractions

import "time"

// Extraction methods, each bound to one provider adapter.
const (
	MethodVision = "vision-analysis"
	MethodText   = "text-analysis"
	MethodOCR    = "ocr-hybrid-analysis"
)

// Request is the canonical inbound bundle: page-ordered encoded images and/or
// encoded raw document bytes, plus a document name. At least one payload kind
// must be present.
type Request struct {
	Images    []string `json:"images,omitempty"`
	FileBytes string   `json:"fileBytes,omitempty"`
	// Text is already-extracted document text. When set, the text-analysis
	// method uses it directly instead of re-parsing FileBytes.
	Text     string `json:"text,omitempty"`
	FileName string `json:"fileName"`
}

// Plan is the planner's static decision: a primary method, an optional
// fallback, and the reasoning behind both. It never changes after creation.
type Plan struct {
	Primary   string   `json:"primary"`
	Fallback  string   `json:"fallback,omitempty"`
	Rationale []string `json:"rationale"`
}

// Attempt records one execution of one method against one provider. Attempts
// are append-only; a failed attempt is kept alongside successful ones so the
// full history is always diagnosable.
type Attempt struct {
	Method      string                  `json:"method"`
	Provider    string                  `json:"provider"`
	Success     bool                    `json:"success"`
	Data        *CanonicalFinancialData `json:"data,omitempty"`
	Confidence  *int                    `json:"confidence,omitempty"`
	Error       string                  `json:"error,omitempty"`
	CircuitOpen bool                    `json:"circuitOpen,omitempty"`
	DurationMs  float64                 `json:"durationMs"`
	PageCount   int                     `json:"pageCount,omitempty"`
}

// HybridAnalysis is the orchestration metadata attached to a final result.
type HybridAnalysis struct {
	SelectedMethod    string    `json:"selectedMethod"`
	Attempts          []Attempt `json:"attempts"`
	Confidence        int       `json:"confidence"`
	AnalysisTimestamp time.Time `json:"analysisTimestamp"`
}

// FinalResult is the orchestrator's outcome: either data plus attempt history
// or a failure plus attempt history. There is no third state.
type FinalResult struct {
	Success        bool                    `json:"success"`
	Data           *CanonicalFinancialData `json:"data,omitempty"`
	HybridAnalysis *HybridAnalysis         `json:"hybridAnalysis,omitempty"`
	Error          string                  `json:"error,omitempty"`
	TotalDuration  time.Duration           `json:"-"`
}

// Extraction job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Extraction represents a document extraction job.
type Extraction struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"documentId"`
	Owner        string         `json:"owner"`
	FileName     string         `json:"fileName"`
	Status       string         `json:"status"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Retryable    bool           `json:"retryable,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}
