package payload

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding for page renders
	"strings"

	"golang.org/x/image/draw"
)

// QualityPreset pairs a resolution scale with a JPEG quality factor.
// Presets are tried highest-fidelity first.
type QualityPreset struct {
	Name    string
	Scale   float64
	Quality int
}

// DefaultPresets covers the fidelity ladder for multi-page CIM renders.
func DefaultPresets() []QualityPreset {
	return []QualityPreset{
		{Name: "high", Scale: 1.0, Quality: 85},
		{Name: "medium", Scale: 0.75, Quality: 70},
		{Name: "low", Scale: 0.5, Quality: 55},
		{Name: "minimal", Scale: 0.35, Quality: 40},
	}
}

// Config bounds payload optimization. TargetSizeBytes is the soft budget the
// optimizer works toward; HardLimitBytes is the upstream transport limit the
// caller must reject requests beyond.
type Config struct {
	TargetSizeBytes  int64
	WarningSizeBytes int64
	HardLimitBytes   int64
	MaxPages         int
}

// DefaultConfig matches the vision providers' practical payload ceiling.
func DefaultConfig() Config {
	return Config{
		TargetSizeBytes:  8 * 1024 * 1024,
		WarningSizeBytes: 6 * 1024 * 1024,
		HardLimitBytes:   20 * 1024 * 1024,
		MaxPages:         10,
	}
}

// Info summarizes the estimated decoded size of an encoded image sequence.
type Info struct {
	TotalSizeBytes           int64   `json:"totalSizeBytes"`
	TotalSizeMB              float64 `json:"totalSizeMB"`
	ImageCount               int     `json:"imageCount"`
	AverageImageSize         int64   `json:"averageImageSize"`
	IsOverLimit              bool    `json:"isOverLimit"`
	IsOverWarningLimit       bool    `json:"isOverWarningLimit"`
	CompressionNeededPercent float64 `json:"compressionNeededPercent"`
}

// Result reports what optimization did to a page sequence.
type Result struct {
	Images              []string `json:"-"`
	OriginalSizeBytes   int64    `json:"originalSizeBytes"`
	FinalSizeBytes      int64    `json:"finalSizeBytes"`
	CompressionRatio    float64  `json:"compressionRatio"`
	PresetName          string   `json:"presetName"`
	PageCount           int      `json:"pageCount"`
	OptimizationApplied bool     `json:"optimizationApplied"`
	EmergencyApplied    bool     `json:"emergencyApplied"`
}

// Optimizer shrinks base64-encoded page-image sequences to fit a size budget.
type Optimizer struct {
	cfg     Config
	presets []QualityPreset
}

// NewOptimizer builds an optimizer; nil presets fall back to DefaultPresets.
func NewOptimizer(cfg Config, presets []QualityPreset) *Optimizer {
	if cfg.TargetSizeBytes <= 0 {
		cfg.TargetSizeBytes = DefaultConfig().TargetSizeBytes
	}
	if cfg.WarningSizeBytes <= 0 {
		cfg.WarningSizeBytes = DefaultConfig().WarningSizeBytes
	}
	if cfg.HardLimitBytes <= 0 {
		cfg.HardLimitBytes = DefaultConfig().HardLimitBytes
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	if len(presets) == 0 {
		presets = DefaultPresets()
	}
	return &Optimizer{cfg: cfg, presets: presets}
}

// Config returns the optimizer's active configuration.
func (o *Optimizer) Config() Config { return o.cfg }

// EstimateDecodedSize estimates the binary size of a base64-encoded payload.
func EstimateDecodedSize(encoded string) int64 {
	return int64(float64(len(stripDataURI(encoded))) * 0.75)
}

func totalSize(images []string) int64 {
	var total int64
	for _, img := range images {
		total += EstimateDecodedSize(img)
	}
	return total
}

// Info reports size characteristics of the encoded image sequence.
func (o *Optimizer) Info(images []string) Info {
	total := totalSize(images)
	info := Info{
		TotalSizeBytes:     total,
		TotalSizeMB:        float64(total) / (1024 * 1024),
		ImageCount:         len(images),
		IsOverLimit:        total > o.cfg.TargetSizeBytes,
		IsOverWarningLimit: total > o.cfg.WarningSizeBytes,
	}
	if len(images) > 0 {
		info.AverageImageSize = total / int64(len(images))
	}
	if info.IsOverLimit {
		info.CompressionNeededPercent = (1 - float64(o.cfg.TargetSizeBytes)/float64(total)) * 100
	}
	return info
}

// Optimize reduces the sequence to fit targetSizeBytes and maxPages.
// Zero arguments fall back to the optimizer's configured budget.
func (o *Optimizer) Optimize(images []string, targetSizeBytes int64, maxPages int) (Result, error) {
	if targetSizeBytes <= 0 {
		targetSizeBytes = o.cfg.TargetSizeBytes
	}
	if maxPages <= 0 {
		maxPages = o.cfg.MaxPages
	}

	original := totalSize(images)
	result := Result{
		Images:            images,
		OriginalSizeBytes: original,
		FinalSizeBytes:    original,
		CompressionRatio:  1,
		PresetName:        "original",
		PageCount:         len(images),
	}
	if original <= targetSizeBytes && len(images) <= maxPages {
		return result, nil
	}

	selected := images
	if len(selected) > maxPages {
		selected = SelectPages(selected, maxPages)
	}

	for _, preset := range o.presets {
		encoded, err := reencodeAll(selected, preset)
		if err != nil {
			return Result{}, err
		}
		size := totalSize(encoded)
		if size <= targetSizeBytes {
			return Result{
				Images:              encoded,
				OriginalSizeBytes:   original,
				FinalSizeBytes:      size,
				CompressionRatio:    ratio(original, size),
				PresetName:          preset.Name,
				PageCount:           len(encoded),
				OptimizationApplied: true,
			}, nil
		}
	}

	// Emergency path: halve the page budget again and force the lowest
	// preset. The result may still exceed the soft target but must stay a
	// genuinely re-encoded sequence, never a truncated one.
	emergencyPages := maxPages / 2
	if emergencyPages < 1 {
		emergencyPages = 1
	}
	if len(selected) > emergencyPages {
		selected = SelectPages(selected, emergencyPages)
	}
	lowest := o.presets[len(o.presets)-1]
	encoded, err := reencodeAll(selected, lowest)
	if err != nil {
		return Result{}, err
	}
	size := totalSize(encoded)
	return Result{
		Images:              encoded,
		OriginalSizeBytes:   original,
		FinalSizeBytes:      size,
		CompressionRatio:    ratio(original, size),
		PresetName:          lowest.Name,
		PageCount:           len(encoded),
		OptimizationApplied: true,
		EmergencyApplied:    true,
	}, nil
}

// SelectPages keeps budget pages: ~60% from the document's start (summary
// sections) and the rest from its end (detailed financial tables). Indices
// are unique and returned in page order.
func SelectPages(images []string, budget int) []string {
	if budget >= len(images) {
		return images
	}
	front := (budget*6 + 9) / 10
	if front > budget {
		front = budget
	}
	back := budget - front

	picked := make(map[int]bool, budget)
	for i := 0; i < front; i++ {
		picked[i] = true
	}
	for i := len(images) - 1; back > 0 && i >= 0; i-- {
		if !picked[i] {
			picked[i] = true
			back--
		}
	}

	out := make([]string, 0, budget)
	for i := range images {
		if picked[i] {
			out = append(out, images[i])
		}
	}
	return out
}

func reencodeAll(images []string, preset QualityPreset) ([]string, error) {
	out := make([]string, 0, len(images))
	for i, img := range images {
		encoded, err := reencode(img, preset)
		if err != nil {
			return nil, fmt.Errorf("reencode page %d preset %s: %w", i, preset.Name, err)
		}
		out = append(out, encoded)
	}
	return out, nil
}

// reencode decodes one base64 page image, downscales it per the preset, and
// re-encodes it as JPEG at the preset quality.
func reencode(encoded string, preset QualityPreset) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stripDataURI(encoded))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("image decode: %w", err)
	}

	dst := src
	if preset.Scale > 0 && preset.Scale < 1 {
		bounds := src.Bounds()
		w := int(float64(bounds.Dx()) * preset.Scale)
		h := int(float64(bounds.Dy()) * preset.Scale)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, bounds, draw.Over, nil)
		dst = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: preset.Quality}); err != nil {
		return "", fmt.Errorf("jpeg encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func stripDataURI(encoded string) string {
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx >= 0 {
			return encoded[idx+1:]
		}
	}
	return encoded
}

func ratio(original, final int64) float64 {
	if original <= 0 {
		return 1
	}
	return float64(final) / float64(original)
}
