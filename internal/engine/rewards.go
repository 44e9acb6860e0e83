package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hopline/internal/domain"
	"hopline/internal/events"
	"hopline/internal/metrics"
)

type CreditInput struct {
	AgentID        string
	RewardType     string
	Points         int
	MonetaryReward *decimal.Decimal
	Reference      string
	ActorID        string
}

// Credit appends a cooperation credit. A reference may be credited once per
// agent and reward type.
func (e Engine) Credit(ctx context.Context, in CreditInput) (domain.CooperationCredit, error) {
	if in.Points < 0 {
		return domain.CooperationCredit{}, invalidf("points must not be negative")
	}
	if !domain.ValidRewardType(in.RewardType) {
		return domain.CooperationCredit{}, invalidf("unknown reward type %q", in.RewardType)
	}
	if in.MonetaryReward != nil && in.MonetaryReward.IsNegative() {
		return domain.CooperationCredit{}, invalidf("monetary_reward must not be negative")
	}
	c := domain.CooperationCredit{
		ID:             uuid.NewString(),
		AgentID:        in.AgentID,
		RewardType:     in.RewardType,
		Points:         in.Points,
		MonetaryReward: in.MonetaryReward,
		Reference:      strings.TrimSpace(in.Reference),
		CreatedAt:      e.ts(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.agentTx(ctx, tx, in.AgentID); err != nil {
			return err
		}
		inserted, err := e.appendCredit(ctx, tx, c, in.ActorID)
		if err != nil {
			return err
		}
		if !inserted {
			return invalidf("%s credit for %s already recorded with reference %s", c.RewardType, c.AgentID, c.Reference)
		}
		return nil
	})
	if err != nil {
		return domain.CooperationCredit{}, err
	}
	return c, nil
}

// appendCredit writes c inside tx and reports whether it was new.
func (e Engine) appendCredit(ctx context.Context, tx *sql.Tx, c domain.CooperationCredit, actorID string) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt == "" {
		c.CreatedAt = e.ts()
	}
	inserted, err := e.Repo.InsertCredit(ctx, tx, c)
	if err != nil {
		return false, fmt.Errorf("insert credit: %w", err)
	}
	if !inserted {
		return false, nil
	}
	payload := events.EventPayload{
		"reward_type": c.RewardType,
		"points":      c.Points,
		"reference":   c.Reference,
	}
	if c.MonetaryReward != nil {
		payload["monetary_reward"] = c.MonetaryReward.String()
	}
	if err := e.emit(ctx, tx, events.CreditRecorded, "agent", c.AgentID, actorID, payload); err != nil {
		return false, err
	}
	metrics.RecordCredit(c.RewardType)
	return true, nil
}

// HonestForwardPoints is min(max, floor(amount/divisor)).
func (e Engine) HonestForwardPoints(amount decimal.Decimal) int {
	hf := e.Config.Rewards.HonestForward
	if !hf.Enabled || hf.Divisor <= 0 {
		return 0
	}
	points := amount.Div(decimal.NewFromFloat(hf.Divisor)).Floor().IntPart()
	if points > int64(hf.MaxPoints) {
		return hf.MaxPoints
	}
	if points < 0 {
		return 0
	}
	return int(points)
}

// creditHonestForward rewards the source of a safe hop once per chain.
func (e Engine) creditHonestForward(ctx context.Context, tx *sql.Tx, hop domain.ForwardHop) error {
	points := e.HonestForwardPoints(hop.Amount)
	if points == 0 {
		return nil
	}
	_, err := e.appendCredit(ctx, tx, domain.CooperationCredit{
		AgentID:    hop.FromAgent,
		RewardType: domain.RewardHonestForward,
		Points:     points,
		Reference:  hop.RootTx,
		CreatedAt:  hop.CreatedAt,
	}, "system")
	return err
}

func (e Engine) CooperationSummary(ctx context.Context, agentID string) (domain.CooperationSummary, error) {
	if _, err := e.GetAgent(ctx, agentID); err != nil {
		return domain.CooperationSummary{}, err
	}
	return e.Repo.CreditSummary(ctx, nil, agentID)
}

func (e Engine) ListCredits(ctx context.Context, agentID string, limit int) ([]domain.CooperationCredit, error) {
	if _, err := e.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return e.Repo.ListCredits(ctx, nil, agentID, limit)
}
