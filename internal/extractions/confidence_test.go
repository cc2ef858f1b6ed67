package extractions

import "testing"

func TestDefaultScorerEmptyData(t *testing.T) {
	data := applySchema(map[string]any{})
	if got := DefaultScorer(data); got != 0 {
		t.Fatalf("empty data scored %d, want 0", got)
	}
}

func TestDefaultScorerRewardsCompleteness(t *testing.T) {
	sparse, err := Normalize(`{"businessInfo": {"name": "Acme"}}`)
	if err != nil {
		t.Fatalf("normalize sparse: %v", err)
	}
	rich, err := Normalize(`{
		"purchasePrice": 2400000,
		"priceSource": "extracted",
		"businessInfo": {"name": "Acme", "type": "HVAC services"},
		"revenue": {"2021": 3100000, "2022": 3400000, "2023": 3900000},
		"ebitda": {"2023": 610000},
		"netIncome": {"2023": 480000},
		"keyRatios": {"ebitdaMargin": 0.18}
	}`)
	if err != nil {
		t.Fatalf("normalize rich: %v", err)
	}

	sparseScore := DefaultScorer(sparse)
	richScore := DefaultScorer(rich)
	if sparseScore >= richScore {
		t.Fatalf("sparse %d should score below rich %d", sparseScore, richScore)
	}
	if richScore < fallbackConfidenceGate {
		t.Fatalf("a complete extraction should clear the fallback gate, got %d", richScore)
	}
	if richScore > 100 {
		t.Fatalf("score must stay within 0-100, got %d", richScore)
	}
}

func TestDefaultScorerIgnoresNullLeaves(t *testing.T) {
	data := applySchema(map[string]any{
		"revenue": map[string]any{"2023": "not disclosed"},
	})
	withNull := DefaultScorer(data)
	if withNull != 0 {
		t.Fatalf("null-only revenue should not score, got %d", withNull)
	}
}
