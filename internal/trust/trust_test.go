package trust

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hopline/internal/domain"
)

func excellentInputs() Inputs {
	return Inputs{
		SuccessRate:      100,
		AvgFeedbackScore: 90,
		SybilScore:       80,
		StakeTier:        domain.TierPlatinum,
		TotalPayments:    10,
		TotalFeedback:    10,
	}
}

func TestClassifyRules(t *testing.T) {
	cases := []struct {
		name string
		in   func() Inputs
		want string
	}{
		{"new agent", func() Inputs { return Inputs{StakeTier: domain.TierNone} }, domain.TrustNew},
		{"excellent", excellentInputs, domain.TrustExcellent},
		{"violation beats everything", func() Inputs {
			in := excellentInputs()
			in.CycleViolationCount = 1
			return in
		}, domain.TrustUntrusted},
		{"sybil floor beats excellent", func() Inputs {
			in := excellentInputs()
			in.SybilScore = 15
			return in
		}, domain.TrustSybilRisk},
		{"silver stake caps at good", func() Inputs {
			in := excellentInputs()
			in.StakeTier = domain.TierSilver
			return in
		}, domain.TrustGood},
		{"fair", func() Inputs {
			return Inputs{SuccessRate: 80, AvgFeedbackScore: 65, SybilScore: 50, TotalPayments: 2, TotalFeedback: 1}
		}, domain.TrustFair},
		{"poor", func() Inputs {
			return Inputs{SuccessRate: 50, AvgFeedbackScore: 40, SybilScore: 50, TotalPayments: 4}
		}, domain.TrustPoor},
		{"feedback only low sybil", func() Inputs {
			return Inputs{AvgFeedbackScore: 90, SybilScore: 0, TotalFeedback: 3}
		}, domain.TrustSybilRisk},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.in(), DefaultSybilFloor); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSybilScoreNoRecords(t *testing.T) {
	rep := SybilScore(nil)
	if rep.Score != 0 || rep.Risk != RiskHigh {
		t.Fatalf("expected zero high-risk score, got %+v", rep)
	}
}

func TestSybilScoreSingleColluder(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, Record{ClientAddress: "0xabc", At: now, Amount: decimal.NewFromInt(1)})
	}
	rep := SybilScore(records)
	// diversity 1/10*40 = 4, age 0, economic 1/100*30 = 0.3
	if rep.Score != 4.3 {
		t.Fatalf("expected 4.3, got %v (%+v)", rep.Score, rep)
	}
	if rep.Risk != RiskHigh {
		t.Fatalf("expected high risk, got %s", rep.Risk)
	}
}

func TestSybilScoreFullMarks(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []Record
	for i := 0; i < 5; i++ {
		records = append(records, Record{
			ClientAddress: fmt.Sprintf("0x%d", i),
			At:            start.AddDate(0, 0, i*100),
			Amount:        decimal.NewFromInt(250),
		})
	}
	rep := SybilScore(records)
	if rep.Score != 100 {
		t.Fatalf("expected 100, got %v (%+v)", rep.Score, rep)
	}
	if rep.Risk != RiskTrusted {
		t.Fatalf("expected trusted, got %s", rep.Risk)
	}
}

func TestRiskBandEdges(t *testing.T) {
	cases := map[float64]string{0: RiskHigh, 19.99: RiskHigh, 20: RiskMedium, 39.9: RiskMedium, 40: RiskLow, 69.9: RiskLow, 70: RiskTrusted}
	for score, want := range cases {
		if got := RiskBand(score); got != want {
			t.Fatalf("RiskBand(%v) = %s, want %s", score, got, want)
		}
	}
}
