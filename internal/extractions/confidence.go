package extractions

// Scorer estimates extraction completeness on a 0-100 scale. The score drives
// fallback triggering and best-attempt selection; the heuristic itself is
// replaceable without touching orchestration.
type Scorer func(CanonicalFinancialData) int

// DefaultScorer awards points per populated field group, favoring the figures
// a valuation actually needs: price, revenue history, and an earnings line.
func DefaultScorer(data CanonicalFinancialData) int {
	score := 0

	if data.PurchasePrice != nil {
		score += 20
		if data.PriceSource == PriceSourceExtracted {
			score += 5
		}
	}
	if data.BusinessInfo.Name != nil {
		score += 10
	}
	if data.BusinessInfo.Type != nil || data.BusinessInfo.Description != nil {
		score += 5
	}

	if populated(data.Revenue) > 0 {
		score += 15
	}
	if populated(data.Revenue) >= 2 {
		score += 10
	}
	if populated(data.EBITDA) > 0 || populated(data.AdjustedEBITDA) > 0 || populated(data.SDE) > 0 {
		score += 15
	}
	for _, series := range []PeriodSeries{data.CostOfRevenue, data.GrossProfit, data.OperatingExpenses, data.NetIncome, data.CashFlow} {
		if populated(series) > 0 {
			score += 3
		}
	}
	if populatedRatios(data.KeyRatios) > 0 {
		score += 5
	}

	if score > 100 {
		score = 100
	}
	return score
}

func populated(series PeriodSeries) int {
	n := 0
	for _, v := range series {
		if v != nil {
			n++
		}
	}
	return n
}

func populatedRatios(ratios map[string]*float64) int {
	n := 0
	for _, v := range ratios {
		if v != nil {
			n++
		}
	}
	return n
}
