package trust

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one counterparty interaction used for sybil scoring.
type Record struct {
	ClientAddress string
	At            time.Time
	Amount        decimal.Decimal
}

const (
	diversityWeight = 40.0
	ageWeight       = 30.0
	economicWeight  = 30.0

	fullAgeDays   = 365.0
	fullAvgAmount = 100.0
)

// Risk bands for a sybil score.
const (
	RiskHigh    = "high_risk"
	RiskMedium  = "medium_risk"
	RiskLow     = "low_risk"
	RiskTrusted = "trusted"
)

type SybilReport struct {
	Score              float64 `json:"score"`
	Risk               string  `json:"risk"`
	DiversityScore     float64 `json:"diversity_score"`
	AgeScore           float64 `json:"age_score"`
	EconomicScore      float64 `json:"economic_score"`
	UniqueCounterparts int     `json:"unique_counterparties"`
	TotalTransactions  int     `json:"total_transactions"`
	SpanDays           float64 `json:"span_days"`
	AvgAmount          string  `json:"avg_amount"`
}

// SybilScore combines counterparty diversity, account age and average
// transaction size into a 0..100 score. No records score 0.
func SybilScore(records []Record) SybilReport {
	rep := SybilReport{TotalTransactions: len(records), AvgAmount: "0"}
	if len(records) == 0 {
		rep.Risk = RiskBand(0)
		return rep
	}
	unique := make(map[string]struct{}, len(records))
	first, last := records[0].At, records[0].At
	total := decimal.Zero
	for _, r := range records {
		unique[r.ClientAddress] = struct{}{}
		if r.At.Before(first) {
			first = r.At
		}
		if r.At.After(last) {
			last = r.At
		}
		total = total.Add(r.Amount)
	}
	rep.UniqueCounterparts = len(unique)
	rep.DiversityScore = float64(len(unique)) / float64(len(records)) * diversityWeight

	rep.SpanDays = last.Sub(first).Hours() / 24
	rep.AgeScore = math.Min(rep.SpanDays/fullAgeDays, 1) * ageWeight

	avg := total.Div(decimal.NewFromInt(int64(len(records))))
	rep.AvgAmount = avg.StringFixed(6)
	avgF, _ := avg.Float64()
	if avgF < 0 {
		avgF = 0
	}
	rep.EconomicScore = math.Min(avgF/fullAvgAmount, 1) * economicWeight

	rep.Score = round2(rep.DiversityScore + rep.AgeScore + rep.EconomicScore)
	rep.DiversityScore = round2(rep.DiversityScore)
	rep.AgeScore = round2(rep.AgeScore)
	rep.EconomicScore = round2(rep.EconomicScore)
	rep.SpanDays = round2(rep.SpanDays)
	rep.Risk = RiskBand(rep.Score)
	return rep
}

// RiskBand buckets a sybil score.
func RiskBand(score float64) string {
	switch {
	case score < 20:
		return RiskHigh
	case score < 40:
		return RiskMedium
	case score < 70:
		return RiskLow
	}
	return RiskTrusted
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
