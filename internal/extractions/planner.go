package extractions

import (
	"fmt"

	"cim-backend/internal/payload"
)

// Planner decides a primary and fallback extraction method for a request
// before any provider is contacted. The plan is static: outcome-driven
// adaptivity (fallback triggering, last-resort retries) lives in the
// orchestrator, not here.
type Planner struct {
	// VisionThresholdBytes is the payload size above which page images are
	// considered too large for a direct vision call. Independent of the hard
	// transport limit.
	VisionThresholdBytes int64
	// OCRAvailable adds ocr-hybrid-analysis as a fallback for image-only
	// requests that would otherwise have none.
	OCRAvailable bool
}

// Plan applies the decision table over the request's available payloads.
func (p *Planner) Plan(req Request) (Plan, error) {
	hasImages := len(req.Images) > 0
	hasBytes := req.FileBytes != "" || req.Text != ""

	if !hasImages && !hasBytes {
		return Plan{}, &ValidationError{Message: "at least one of images, fileBytes or text is required"}
	}

	threshold := p.VisionThresholdBytes
	if threshold <= 0 {
		threshold = payload.DefaultConfig().TargetSizeBytes
	}

	var imageSize int64
	for _, img := range req.Images {
		imageSize += payload.EstimateDecodedSize(img)
	}
	oversized := hasImages && imageSize > threshold

	switch {
	case hasImages && !oversized:
		plan := Plan{
			Primary:   MethodVision,
			Rationale: []string{fmt.Sprintf("page images fit the vision budget (%d bytes <= %d)", imageSize, threshold)},
		}
		if hasBytes {
			plan.Fallback = MethodText
			plan.Rationale = append(plan.Rationale, "raw document bytes available for text fallback")
		} else if p.OCRAvailable {
			plan.Fallback = MethodOCR
			plan.Rationale = append(plan.Rationale, "image-only request would normally get no fallback; substituting ocr-hybrid-analysis because an OCR adapter is configured")
		}
		return plan, nil

	case hasImages && oversized && hasBytes:
		return Plan{
			Primary:  MethodText,
			Fallback: MethodVision,
			Rationale: []string{
				fmt.Sprintf("page images exceed the vision budget (%d bytes > %d); preferring text", imageSize, threshold),
				"vision fallback will run through payload optimization first",
			},
		}, nil

	case hasImages && oversized:
		plan := Plan{
			Primary:   MethodVision,
			Rationale: []string{fmt.Sprintf("only images present and oversized (%d bytes > %d); vision with mandatory optimization", imageSize, threshold)},
		}
		if p.OCRAvailable {
			plan.Fallback = MethodOCR
			plan.Rationale = append(plan.Rationale, "image-only request would normally get no fallback; substituting ocr-hybrid-analysis because an OCR adapter is configured")
		}
		return plan, nil

	default:
		return Plan{
			Primary:   MethodText,
			Rationale: []string{"only raw document bytes present; text analysis"},
		}, nil
	}
}
