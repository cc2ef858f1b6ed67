package extractions

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Price source tags for purchasePrice.
const (
	PriceSourceExtracted  = "extracted"
	PriceSourceCalculated = "calculated"
	PriceSourceEstimated  = "estimated"
	PriceSourceNotFound   = "not_found"
)

// PeriodSeries maps a period label ("2021", "TTM") to a numeric value.
// A present key with a nil value means the provider reported the period but
// the figure could not be recovered as a number.
type PeriodSeries map[string]*float64

// BusinessInfo describes the business being sold.
type BusinessInfo struct {
	Name          *string  `json:"name"`
	Type          *string  `json:"type"`
	Description   *string  `json:"description"`
	Location      *string  `json:"location"`
	EmployeeCount *float64 `json:"employeeCount"`
}

// CanonicalFinancialData is the single normalized shape all provider outputs
// are mapped into. Every numeric leaf is a finite number or explicit null;
// period maps are always present, possibly empty.
type CanonicalFinancialData struct {
	PurchasePrice     *float64            `json:"purchasePrice"`
	PriceSource       string              `json:"priceSource"`
	BusinessInfo      BusinessInfo        `json:"businessInfo"`
	Revenue           PeriodSeries        `json:"revenue"`
	CostOfRevenue     PeriodSeries        `json:"costOfRevenue"`
	GrossProfit       PeriodSeries        `json:"grossProfit"`
	OperatingExpenses PeriodSeries        `json:"operatingExpenses"`
	EBITDA            PeriodSeries        `json:"ebitda"`
	AdjustedEBITDA    PeriodSeries        `json:"adjustedEbitda"`
	SDE               PeriodSeries        `json:"sde"`
	NetIncome         PeriodSeries        `json:"netIncome"`
	CashFlow          PeriodSeries        `json:"cashFlow"`
	KeyRatios         map[string]*float64 `json:"keyRatios"`
	Confidence        *float64            `json:"confidence"`
}

// applySchema maps a loosely-typed parsed object onto the canonical schema.
// Missing keys become nulls, period maps default to empty maps, and every
// numeric leaf goes through the coercion pass.
func applySchema(top map[string]any) CanonicalFinancialData {
	return CanonicalFinancialData{
		PurchasePrice:     coerceNumber(top["purchasePrice"]),
		PriceSource:       normalizePriceSource(top["priceSource"]),
		BusinessInfo:      applyBusinessInfo(top["businessInfo"]),
		Revenue:           periodSeries(top["revenue"]),
		CostOfRevenue:     periodSeries(top["costOfRevenue"]),
		GrossProfit:       periodSeries(top["grossProfit"]),
		OperatingExpenses: periodSeries(top["operatingExpenses"]),
		EBITDA:            periodSeries(firstPresent(top, "ebitda", "EBITDA")),
		AdjustedEBITDA:    periodSeries(firstPresent(top, "adjustedEbitda", "adjustedEBITDA")),
		SDE:               periodSeries(firstPresent(top, "sde", "SDE")),
		NetIncome:         periodSeries(top["netIncome"]),
		CashFlow:          periodSeries(top["cashFlow"]),
		KeyRatios:         ratioMap(top["keyRatios"]),
		Confidence:        clampConfidence(coerceNumber(top["confidence"])),
	}
}

func applyBusinessInfo(value any) BusinessInfo {
	obj, ok := value.(map[string]any)
	if !ok {
		return BusinessInfo{}
	}
	return BusinessInfo{
		Name:          coerceString(obj["name"]),
		Type:          coerceString(obj["type"]),
		Description:   coerceString(obj["description"]),
		Location:      coerceString(obj["location"]),
		EmployeeCount: coerceNumber(firstPresent(obj, "employeeCount", "employees")),
	}
}

func normalizePriceSource(value any) string {
	s, _ := value.(string)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case PriceSourceExtracted, PriceSourceCalculated, PriceSourceEstimated:
		return strings.ToLower(strings.TrimSpace(s))
	default:
		return PriceSourceNotFound
	}
}

func periodSeries(value any) PeriodSeries {
	out := PeriodSeries{}
	obj, ok := value.(map[string]any)
	if !ok {
		return out
	}
	for period, raw := range obj {
		out[period] = coerceNumber(raw)
	}
	return out
}

func ratioMap(value any) map[string]*float64 {
	out := map[string]*float64{}
	obj, ok := value.(map[string]any)
	if !ok {
		return out
	}
	for name, raw := range obj {
		out[name] = coerceNumber(raw)
	}
	return out
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			return v
		}
	}
	return nil
}

func coerceString(value any) *string {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// coerceNumber turns a numeric leaf into a finite float or nil. Providers are
// instructed to emit plain numbers, but stringly values like "$5.2M" or
// "12.5%" still appear; those go through parseNumericString.
func coerceNumber(value any) *float64 {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return &v
	case string:
		return parseNumericString(v)
	default:
		return nil
	}
}

// parseNumericString strips currency formatting ($, commas), expands K/M/B
// magnitude suffixes, and converts a trailing % into a 0-1 fraction.
func parseNumericString(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")

	multiplier := 1.0
	switch {
	case strings.HasSuffix(strings.ToUpper(s), "K"):
		multiplier = 1e3
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "M"):
		multiplier = 1e6
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "B"):
		multiplier = 1e9
		s = s[:len(s)-1]
	}

	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	n *= multiplier
	if percent {
		n /= 100
	}
	return &n
}

func clampConfidence(value *float64) *float64 {
	if value == nil {
		return nil
	}
	v := *value
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}

const canonicalSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": [
    "purchasePrice", "priceSource", "businessInfo",
    "revenue", "costOfRevenue", "grossProfit", "operatingExpenses",
    "ebitda", "adjustedEbitda", "sde", "netIncome", "cashFlow",
    "keyRatios", "confidence"
  ],
  "properties": {
    "purchasePrice": {"type": ["number", "null"]},
    "priceSource": {"enum": ["extracted", "calculated", "estimated", "not_found"]},
    "businessInfo": {
      "type": "object",
      "properties": {
        "name": {"type": ["string", "null"]},
        "type": {"type": ["string", "null"]},
        "description": {"type": ["string", "null"]},
        "location": {"type": ["string", "null"]},
        "employeeCount": {"type": ["number", "null"]}
      }
    },
    "revenue": {"$ref": "#/$defs/periodSeries"},
    "costOfRevenue": {"$ref": "#/$defs/periodSeries"},
    "grossProfit": {"$ref": "#/$defs/periodSeries"},
    "operatingExpenses": {"$ref": "#/$defs/periodSeries"},
    "ebitda": {"$ref": "#/$defs/periodSeries"},
    "adjustedEbitda": {"$ref": "#/$defs/periodSeries"},
    "sde": {"$ref": "#/$defs/periodSeries"},
    "netIncome": {"$ref": "#/$defs/periodSeries"},
    "cashFlow": {"$ref": "#/$defs/periodSeries"},
    "keyRatios": {
      "type": "object",
      "additionalProperties": {"type": ["number", "null"]}
    },
    "confidence": {"type": ["number", "null"], "minimum": 0, "maximum": 100}
  },
  "$defs": {
    "periodSeries": {
      "type": "object",
      "additionalProperties": {"type": ["number", "null"]}
    }
  }
}`

var canonicalSchema = jsonschema.MustCompileString("canonical-financial-data.json", canonicalSchemaJSON)

// validateCanonical checks a normalized result against the canonical schema.
// It exists to catch coercion regressions, not to reject provider output;
// normalization already guarantees a conforming shape.
func validateCanonical(data CanonicalFinancialData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}
	if err := canonicalSchema.Validate(doc); err != nil {
		return fmt.Errorf("canonical schema: %w", err)
	}
	return nil
}
