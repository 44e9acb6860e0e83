// Package trust holds the pure scoring functions behind an agent's trust
// level. Nothing here touches storage; callers gather the inputs.
package trust

import "hopline/internal/domain"

// Inputs are the signals the classifier combines.
type Inputs struct {
	SuccessRate         float64 `json:"success_rate"`
	AvgFeedbackScore    float64 `json:"avg_feedback_score"`
	CycleViolationCount int     `json:"cycle_violation_count"`
	SybilScore          float64 `json:"sybil_score"`
	StakeTier           string  `json:"stake_tier"`
	TotalPayments       int     `json:"total_payments"`
	TotalFeedback       int     `json:"total_feedback"`
}

// DefaultSybilFloor is the score below which an agent is a sybil risk.
const DefaultSybilFloor = 20.0

// Classify returns the trust level for in, first matching rule wins.
// The sybil floor is only applied to agents that have some history; an
// agent with no payments and no feedback has a zero sybil score by
// construction and classifies as new.
func Classify(in Inputs, sybilFloor float64) string {
	hasHistory := in.TotalPayments > 0 || in.TotalFeedback > 0
	switch {
	case in.CycleViolationCount > 0:
		return domain.TrustUntrusted
	case hasHistory && in.SybilScore < sybilFloor:
		return domain.TrustSybilRisk
	case in.SuccessRate >= 95 && in.AvgFeedbackScore >= 80 && in.TotalPayments >= 10 &&
		(in.StakeTier == domain.TierGold || in.StakeTier == domain.TierPlatinum):
		return domain.TrustExcellent
	case in.SuccessRate >= 85 && in.AvgFeedbackScore >= 70 && in.TotalPayments >= 5:
		return domain.TrustGood
	case in.SuccessRate >= 75 && in.AvgFeedbackScore >= 60:
		return domain.TrustFair
	case in.TotalPayments == 0 && in.TotalFeedback == 0:
		return domain.TrustNew
	}
	return domain.TrustPoor
}
