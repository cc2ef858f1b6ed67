package extractions

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cim-backend/internal/payload"
	"cim-backend/internal/providers"
	"cim-backend/internal/resilience"
	"cim-backend/internal/shared/metrics"
	"cim-backend/internal/shared/telemetry"
)

// fallbackConfidenceGate: a successful primary below this score still triggers
// the fallback attempt.
const fallbackConfidenceGate = 60

// TextExtractor recovers plain text from raw document bytes.
type TextExtractor func(ctx context.Context, fileBytes []byte, fileName string) (string, error)

// Orchestrator runs an extraction plan end to end: breaker-wrapped provider
// attempts, confidence-gated fallback, a last-resort retry pass, and
// best-attempt selection. It owns no per-request state; the breaker registry
// is the only thing shared across requests.
type Orchestrator struct {
	Planner     *Planner
	Breakers    *resilience.Registry
	Adapters    map[string]providers.Adapter
	Retry       resilience.RetryPolicy
	Optimizer   *payload.Optimizer
	Score       Scorer
	Prompt      string
	ExtractText TextExtractor
}

// runState caches per-request derivations so text extraction and payload
// optimization happen at most once even when several attempts need them.
type runState struct {
	req Request

	textOnce sync.Once
	text     string
	textErr  error

	optOnce sync.Once
	opt     payload.Result
	optErr  error
}

// Run executes the full orchestration for one request. The returned error is
// non-nil only for ValidationError and AggregateFailure; every provider-level
// failure is folded into the attempt history instead.
func (o *Orchestrator) Run(ctx context.Context, req Request) (FinalResult, error) {
	started := time.Now()

	plan, err := o.Planner.Plan(req)
	if err != nil {
		return FinalResult{}, err
	}
	if err := o.rejectOverHardLimit(req); err != nil {
		return FinalResult{}, err
	}

	telemetry.Info("extraction.plan", map[string]any{
		"file_name": req.FileName,
		"primary":   plan.Primary,
		"fallback":  plan.Fallback,
		"rationale": strings.Join(plan.Rationale, "; "),
	})

	state := &runState{req: req}
	attempts := make([]Attempt, 0, 3)

	primary := o.runAttempt(ctx, plan.Primary, state, false)
	attempts = append(attempts, primary)

	primaryConfidence := 0
	if primary.Confidence != nil {
		primaryConfidence = *primary.Confidence
	}
	if (!primary.Success || primaryConfidence < fallbackConfidenceGate) && plan.Fallback != "" {
		attempts = append(attempts, o.runAttempt(ctx, plan.Fallback, state, false))
	}

	best, ok := selectBest(attempts)
	if !ok {
		if method := lastCircuitOpenMethod(attempts); method != "" {
			attempts = append(attempts, o.runAttempt(ctx, method, state, true))
			best, ok = selectBest(attempts)
		}
	}

	elapsed := time.Since(started)
	if !ok {
		telemetry.Error("extraction.failed", map[string]any{
			"file_name":   req.FileName,
			"attempts":    len(attempts),
			"duration_ms": float64(elapsed.Microseconds()) / 1000.0,
		})
		return FinalResult{
			Success:        false,
			HybridAnalysis: &HybridAnalysis{Attempts: attempts, AnalysisTimestamp: time.Now().UTC()},
			TotalDuration:  elapsed,
		}, &AggregateFailure{Attempts: attempts}
	}

	confidence := 0
	if best.Confidence != nil {
		confidence = *best.Confidence
	}
	telemetry.Info("extraction.completed", map[string]any{
		"file_name":       req.FileName,
		"selected_method": best.Method,
		"confidence":      confidence,
		"attempts":        len(attempts),
		"duration_ms":     float64(elapsed.Microseconds()) / 1000.0,
	})
	return FinalResult{
		Success: true,
		Data:    best.Data,
		HybridAnalysis: &HybridAnalysis{
			SelectedMethod:    best.Method,
			Attempts:          attempts,
			Confidence:        confidence,
			AnalysisTimestamp: time.Now().UTC(),
		},
		TotalDuration: elapsed,
	}, nil
}

// rejectOverHardLimit enforces the upstream transport limit before any
// provider call; the optimizer's emergency path may exceed soft targets but
// requests beyond the hard limit are rejected outright.
func (o *Orchestrator) rejectOverHardLimit(req Request) error {
	if len(req.Images) == 0 {
		return nil
	}
	info := o.Optimizer.Info(req.Images)
	if info.TotalSizeBytes > o.Optimizer.Config().HardLimitBytes {
		return &ValidationError{Message: fmt.Sprintf(
			"image payload %.1fMB exceeds the %dMB transport limit",
			info.TotalSizeMB, o.Optimizer.Config().HardLimitBytes/(1024*1024))}
	}
	return nil
}

// runAttempt executes one method once and records the outcome. With
// bypassBreaker set the call goes through the retry policy directly, which is
// the last-resort path when the breaker may already be open.
func (o *Orchestrator) runAttempt(ctx context.Context, method string, state *runState, bypassBreaker bool) Attempt {
	started := time.Now()
	attempt := Attempt{Method: method}

	adapter, ok := o.Adapters[method]
	if !ok || adapter == nil {
		attempt.Error = fmt.Sprintf("no adapter configured for %s", method)
		attempt.DurationMs = msSince(started)
		metrics.IncAttempt(method, false)
		return attempt
	}
	attempt.Provider = adapter.Name()

	provReq, pageCount, err := o.buildRequest(ctx, method, state)
	if err != nil {
		attempt.Error = sanitizeAttemptError(err)
		attempt.DurationMs = msSince(started)
		metrics.IncAttempt(method, false)
		return attempt
	}
	attempt.PageCount = pageCount

	op := func(ctx context.Context) (providers.RawResponse, error) {
		return adapter.Invoke(ctx, provReq)
	}

	var resp providers.RawResponse
	if bypassBreaker {
		resp, err = resilience.Retry(ctx, o.Retry, method, op)
	} else {
		resp, err = resilience.Execute(ctx, o.Breakers.Get(adapter.Name()), op, nil)
	}
	if err != nil {
		var open *resilience.CircuitOpenError
		if errors.As(err, &open) {
			attempt.CircuitOpen = true
			metrics.IncCircuitOpen()
		}
		attempt.Error = sanitizeAttemptError(err)
		attempt.DurationMs = msSince(started)
		metrics.IncAttempt(method, false)
		return attempt
	}

	data, err := Normalize(resp.Text)
	if err != nil {
		attempt.Error = sanitizeAttemptError(err)
		attempt.DurationMs = msSince(started)
		metrics.IncAttempt(method, false)
		return attempt
	}

	confidence := 0
	if o.Score != nil {
		confidence = o.Score(data)
	}
	attempt.Success = true
	attempt.Data = &data
	attempt.Confidence = &confidence
	attempt.DurationMs = msSince(started)
	metrics.IncAttempt(method, true)
	return attempt
}

// buildRequest assembles the provider request for a method: optimized page
// images for vision and OCR, extracted document text for text analysis.
func (o *Orchestrator) buildRequest(ctx context.Context, method string, state *runState) (providers.Request, int, error) {
	switch method {
	case MethodVision, MethodOCR:
		if len(state.req.Images) == 0 {
			return providers.Request{}, 0, fmt.Errorf("%s requires page images", method)
		}
		opt, err := o.optimizedImages(state)
		if err != nil {
			return providers.Request{}, 0, fmt.Errorf("payload optimization: %w", err)
		}
		return providers.Request{Prompt: o.Prompt, Images: opt.Images}, opt.PageCount, nil

	case MethodText:
		text, err := o.documentText(ctx, state)
		if err != nil {
			return providers.Request{}, 0, err
		}
		return providers.Request{Prompt: o.Prompt, Text: text}, 0, nil

	default:
		return providers.Request{}, 0, fmt.Errorf("unknown extraction method %q", method)
	}
}

func (o *Orchestrator) optimizedImages(state *runState) (payload.Result, error) {
	state.optOnce.Do(func() {
		state.opt, state.optErr = o.Optimizer.Optimize(state.req.Images, 0, 0)
		if state.optErr == nil && state.opt.EmergencyApplied {
			telemetry.Info("extraction.payload_emergency", map[string]any{
				"file_name":  state.req.FileName,
				"page_count": state.opt.PageCount,
				"final_size": state.opt.FinalSizeBytes,
			})
		}
	})
	return state.opt, state.optErr
}

func (o *Orchestrator) documentText(ctx context.Context, state *runState) (string, error) {
	state.textOnce.Do(func() {
		// Pre-extracted text skips the parse entirely.
		if state.req.Text != "" {
			state.text = state.req.Text
			return
		}
		if state.req.FileBytes == "" {
			state.textErr = fmt.Errorf("text analysis requires text or fileBytes")
			return
		}
		if o.ExtractText == nil {
			state.textErr = fmt.Errorf("no text extractor configured")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(state.req.FileBytes)
		if err != nil {
			state.textErr = fmt.Errorf("fileBytes decode: %w", err)
			return
		}
		state.text, state.textErr = o.ExtractText(ctx, raw, state.req.FileName)
	})
	return state.text, state.textErr
}

// selectBest picks the successful attempt with the highest confidence; ties go
// to the earlier attempt (primary over fallback over retry).
func selectBest(attempts []Attempt) (Attempt, bool) {
	var best Attempt
	found := false
	bestConfidence := -1
	for _, a := range attempts {
		if !a.Success {
			continue
		}
		confidence := 0
		if a.Confidence != nil {
			confidence = *a.Confidence
		}
		if confidence > bestConfidence {
			best = a
			bestConfidence = confidence
			found = true
		}
	}
	return best, found
}

// lastCircuitOpenMethod finds the most recent attempt that was rejected by an
// open breaker without the provider ever being invoked. Only those qualify for
// the last-resort retry pass: re-running a genuine provider failure
// immediately would just fail again, but a breaker rejection means the
// provider itself was never given a chance.
func lastCircuitOpenMethod(attempts []Attempt) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].CircuitOpen {
			return attempts[i].Method
		}
	}
	return ""
}

func msSince(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000.0
}

func sanitizeAttemptError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
