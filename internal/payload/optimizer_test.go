package payload

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

// testPage renders a gradient page image and returns it base64-encoded.
func testPage(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode test page: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestOptimizeNoopWithinBudget(t *testing.T) {
	o := NewOptimizer(DefaultConfig(), nil)
	images := []string{testPage(t, 40, 40), testPage(t, 40, 40)}

	result, err := o.Optimize(images, 10*1024*1024, 10)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if result.OptimizationApplied {
		t.Fatal("expected no optimization for payload within budget")
	}
	if len(result.Images) != 2 || result.Images[0] != images[0] || result.Images[1] != images[1] {
		t.Fatal("expected the identical image sequence back")
	}
	if result.FinalSizeBytes != result.OriginalSizeBytes {
		t.Fatalf("expected unchanged size, got %d != %d", result.FinalSizeBytes, result.OriginalSizeBytes)
	}
}

func TestOptimizeShrinksOversizedPayload(t *testing.T) {
	o := NewOptimizer(DefaultConfig(), nil)
	images := []string{testPage(t, 600, 800), testPage(t, 600, 800), testPage(t, 600, 800)}
	target := totalSize(images) / 2

	result, err := o.Optimize(images, target, 10)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !result.OptimizationApplied {
		t.Fatal("expected optimization to be applied")
	}
	if result.FinalSizeBytes > result.OriginalSizeBytes {
		t.Fatalf("final %d exceeds original %d", result.FinalSizeBytes, result.OriginalSizeBytes)
	}
	if !result.EmergencyApplied && result.FinalSizeBytes > target {
		t.Fatalf("non-emergency result %d exceeds target %d", result.FinalSizeBytes, target)
	}
	if result.PresetName == "original" {
		t.Fatal("expected a quality preset to be reported")
	}
	// Output pages must decode as valid images, not truncated data.
	for i, img := range result.Images {
		raw, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			t.Fatalf("page %d: invalid base64: %v", i, err)
		}
		if _, _, err := image.Decode(bytes.NewReader(raw)); err != nil {
			t.Fatalf("page %d: undecodable after optimization: %v", i, err)
		}
	}
}

func TestOptimizeReducesPageCount(t *testing.T) {
	o := NewOptimizer(DefaultConfig(), nil)
	images := make([]string, 15)
	for i := range images {
		images[i] = testPage(t, 300, 400)
	}

	result, err := o.Optimize(images, totalSize(images), 10)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if result.PageCount > 10 {
		t.Fatalf("expected at most 10 pages, got %d", result.PageCount)
	}
	if !result.OptimizationApplied {
		t.Fatal("expected page reduction to count as optimization")
	}
}

func TestOptimizeEmergencyPathFlagsResult(t *testing.T) {
	o := NewOptimizer(DefaultConfig(), nil)
	images := make([]string, 8)
	for i := range images {
		images[i] = testPage(t, 400, 500)
	}

	// An unattainable target forces the emergency path.
	result, err := o.Optimize(images, 10, 8)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !result.EmergencyApplied {
		t.Fatal("expected emergency flag")
	}
	if result.PageCount > 4 {
		t.Fatalf("emergency path should halve the page budget, got %d pages", result.PageCount)
	}
	if result.PresetName != "minimal" {
		t.Fatalf("expected lowest preset, got %s", result.PresetName)
	}
}

func TestSelectPagesKeepsFrontAndBack(t *testing.T) {
	images := make([]string, 15)
	for i := range images {
		images[i] = fmt.Sprintf("page-%d", i)
	}

	got := SelectPages(images, 10)
	want := []string{
		"page-0", "page-1", "page-2", "page-3", "page-4", "page-5",
		"page-11", "page-12", "page-13", "page-14",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d pages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("page %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSelectPagesNoDuplicatesOnTinySequences(t *testing.T) {
	images := []string{"a", "b", "c"}
	got := SelectPages(images, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(got))
	}
	if got[0] == got[1] {
		t.Fatal("expected distinct pages")
	}
}

func TestInfoReportsLimits(t *testing.T) {
	o := NewOptimizer(Config{TargetSizeBytes: 1000, WarningSizeBytes: 500, HardLimitBytes: 5000, MaxPages: 10}, nil)

	small := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 100))
	info := o.Info([]string{small})
	if info.IsOverLimit || info.IsOverWarningLimit {
		t.Fatalf("small payload flagged over limit: %+v", info)
	}

	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 3000))
	info = o.Info([]string{big, big})
	if !info.IsOverLimit || !info.IsOverWarningLimit {
		t.Fatalf("large payload not flagged: %+v", info)
	}
	if info.ImageCount != 2 || info.AverageImageSize != info.TotalSizeBytes/2 {
		t.Fatalf("bad counts: %+v", info)
	}
	if info.CompressionNeededPercent <= 0 {
		t.Fatalf("expected compression percent > 0, got %f", info.CompressionNeededPercent)
	}
}
