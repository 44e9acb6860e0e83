package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"hopline/internal/domain"
	"hopline/internal/repo"
	"hopline/internal/trust"
)

// ScoreBreakdown lists every input that went into a trust level.
type ScoreBreakdown struct {
	trust.Inputs
	CompletedPayments int               `json:"completed_payments"`
	ReputationScore   int               `json:"reputation_score"`
	Sybil             trust.SybilReport `json:"sybil"`
	StakedAmount      decimal.Decimal   `json:"staked_amount"`
	SlashedAmount     decimal.Decimal   `json:"slashed_amount"`
	CooperationPoints int               `json:"cooperation_points"`
	DecayEvents       int               `json:"decay_events"`
}

type TrustReport struct {
	AgentID    string         `json:"agent_id"`
	TrustLevel string         `json:"trust_level"`
	Breakdown  ScoreBreakdown `json:"score_breakdown"`
}

// GetTrust classifies an agent from its current payments, feedback,
// violations, sybil score and stake.
func (e Engine) GetTrust(ctx context.Context, agentID string) (TrustReport, error) {
	if _, err := e.GetAgent(ctx, agentID); err != nil {
		return TrustReport{}, err
	}
	return e.trustTx(ctx, nil, agentID)
}

func (e Engine) trustTx(ctx context.Context, tx *sql.Tx, agentID string) (TrustReport, error) {
	var b ScoreBreakdown
	total, completed, err := e.Repo.PaymentStats(ctx, tx, agentID)
	if err != nil {
		return TrustReport{}, err
	}
	b.TotalPayments, b.CompletedPayments = total, completed
	if total > 0 {
		b.SuccessRate = float64(completed) / float64(total) * 100
	}
	if b.TotalFeedback, b.AvgFeedbackScore, err = e.Repo.FeedbackStats(ctx, tx, agentID); err != nil {
		return TrustReport{}, err
	}
	b.ReputationScore = int(math.Round(b.AvgFeedbackScore))
	if b.CycleViolationCount, err = e.Repo.CountViolations(ctx, tx, agentID); err != nil {
		return TrustReport{}, err
	}
	if b.Sybil, err = e.sybilTx(ctx, tx, agentID); err != nil {
		return TrustReport{}, err
	}
	b.SybilScore = b.Sybil.Score

	b.StakeTier = domain.TierNone
	b.StakedAmount, b.SlashedAmount = decimal.Zero, decimal.Zero
	pos, err := e.Repo.GetStake(ctx, tx, agentID)
	switch {
	case err == nil:
		b.StakeTier = pos.StakeTier
		b.StakedAmount, b.SlashedAmount = pos.StakedAmount, pos.SlashedAmount
	case !errors.Is(err, repo.ErrNotFound):
		return TrustReport{}, err
	}
	sum, err := e.Repo.CreditSummary(ctx, tx, agentID)
	if err != nil {
		return TrustReport{}, err
	}
	b.CooperationPoints = sum.TotalPoints
	if b.DecayEvents, err = e.Repo.CountDecaySnapshots(ctx, tx, agentID); err != nil {
		return TrustReport{}, err
	}
	return TrustReport{
		AgentID:    agentID,
		TrustLevel: trust.Classify(b.Inputs, e.sybilFloor()),
		Breakdown:  b,
	}, nil
}

func (e Engine) sybilFloor() float64 {
	if e.Config == nil {
		return trust.DefaultSybilFloor
	}
	return e.Config.Sybil.Floor
}
