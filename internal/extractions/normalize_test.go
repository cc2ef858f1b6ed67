package extractions

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeDirectParse(t *testing.T) {
	data, err := Normalize(`{"purchasePrice": 500000, "priceSource": "extracted"}`)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if data.PurchasePrice == nil || *data.PurchasePrice != 500000 {
		t.Fatalf("purchasePrice = %v", data.PurchasePrice)
	}
	if data.PriceSource != PriceSourceExtracted {
		t.Fatalf("priceSource = %q", data.PriceSource)
	}
}

func TestNormalizeFencedBlock(t *testing.T) {
	raw := "Here is the data:\n```json\n{\"purchasePrice\": 500000}\n```\nLet me know!"
	data, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if data.PurchasePrice == nil || *data.PurchasePrice != 500000 {
		t.Fatalf("purchasePrice = %v", data.PurchasePrice)
	}
	// Absent keys fill with defaults: not_found price source, empty maps.
	if data.PriceSource != PriceSourceNotFound {
		t.Fatalf("priceSource = %q", data.PriceSource)
	}
	if data.Revenue == nil || len(data.Revenue) != 0 {
		t.Fatalf("revenue should default to an empty map, got %v", data.Revenue)
	}
	if data.BusinessInfo.Name != nil {
		t.Fatalf("businessInfo.name should default to null")
	}
}

func TestNormalizeBracketScan(t *testing.T) {
	raw := `The extraction found the following. {"purchasePrice": 1200000, "revenue": {"2023": 4500000}} Hope that helps.`
	data, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if data.PurchasePrice == nil || *data.PurchasePrice != 1200000 {
		t.Fatalf("purchasePrice = %v", data.PurchasePrice)
	}
	if v := data.Revenue["2023"]; v == nil || *v != 4500000 {
		t.Fatalf("revenue 2023 = %v", v)
	}
}

func TestNormalizeFailsWithSample(t *testing.T) {
	_, err := Normalize("I could not read the document, sorry.")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Sample == "" {
		t.Fatal("expected a diagnostic sample")
	}
}

func TestNormalizeCoercesStringNumbers(t *testing.T) {
	raw := `{
		"purchasePrice": "$5.2M",
		"revenue": {"2022": "1,250K", "2023": "4.5M", "TTM": "n/a"},
		"ebitda": {"2023": "$900,000"},
		"keyRatios": {"grossMargin": "42.5%", "growth": "12%"},
		"businessInfo": {"name": "Acme Services", "employeeCount": "35"}
	}`
	data, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cases := []struct {
		name string
		got  *float64
		want float64
	}{
		{"purchasePrice $5.2M", data.PurchasePrice, 5.2e6},
		{"revenue 2022 1,250K", data.Revenue["2022"], 1.25e6},
		{"revenue 2023 4.5M", data.Revenue["2023"], 4.5e6},
		{"ebitda $900,000", data.EBITDA["2023"], 900000},
		{"grossMargin 42.5%", data.KeyRatios["grossMargin"], 0.425},
		{"growth 12%", data.KeyRatios["growth"], 0.12},
		{"employeeCount 35", data.BusinessInfo.EmployeeCount, 35},
	}
	for _, tc := range cases {
		if tc.got == nil || *tc.got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, tc.got, tc.want)
		}
	}
	// Unparseable values become explicit nulls, never strings.
	if v, ok := data.Revenue["TTM"]; !ok || v != nil {
		t.Fatalf("unparseable value should be present-and-null, got %v present=%v", v, ok)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := `{
		"purchasePrice": "$2.4M",
		"priceSource": "estimated",
		"businessInfo": {"name": "Harbor Logistics", "location": "Tacoma, WA"},
		"revenue": {"2021": 3100000, "2022": "3.4M"},
		"ebitda": {"2022": "$610K"},
		"keyRatios": {"ebitdaMargin": "18%"},
		"confidence": 75
	}`
	first, err := Normalize(raw)
	if err != nil {
		t.Fatalf("first normalize: %v", err)
	}
	serialized, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Normalize(string(serialized))
	if err != nil {
		t.Fatalf("second normalize: %v", err)
	}
	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if string(firstJSON) != string(secondJSON) {
		t.Fatalf("not idempotent:\n%s\n%s", firstJSON, secondJSON)
	}
}

func TestNormalizeClampsConfidence(t *testing.T) {
	data, err := Normalize(`{"confidence": 180}`)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if data.Confidence == nil || *data.Confidence != 100 {
		t.Fatalf("confidence = %v, want 100", data.Confidence)
	}
}

func TestParseNumericString(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"$5.2M", f(5.2e6)},
		{"250K", f(250000)},
		{"1.1B", f(1.1e9)},
		{"$1,234,567", f(1234567)},
		{"5.2%", f(5.2 / 100)},
		{"-120000", f(-120000)},
		{"", nil},
		{"unknown", nil},
		{"M", nil},
	}
	for _, tt := range tests {
		got := parseNumericString(tt.in)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("parseNumericString(%q) = %v, want nil", tt.in, *got)
		case tt.want != nil && got == nil:
			t.Errorf("parseNumericString(%q) = nil, want %v", tt.in, *tt.want)
		case tt.want != nil && *got != *tt.want:
			t.Errorf("parseNumericString(%q) = %v, want %v", tt.in, *got, *tt.want)
		}
	}
}

func f(v float64) *float64 { return &v }
