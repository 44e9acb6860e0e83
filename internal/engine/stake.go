package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hopline/internal/domain"
	"hopline/internal/events"
	"hopline/internal/metrics"
	"hopline/internal/repo"
)

type StakeInput struct {
	AgentID string
	Amount  decimal.Decimal
	// LockDays of 0 uses the configured default lock.
	LockDays int
	ActorID  string
}

// Stake adds funds to an agent's position and restarts its lock.
func (e Engine) Stake(ctx context.Context, in StakeInput) (domain.StakePosition, error) {
	if !in.Amount.IsPositive() {
		return domain.StakePosition{}, invalidf("stake amount must be positive")
	}
	if in.LockDays < 0 {
		return domain.StakePosition{}, invalidf("lock_days must not be negative")
	}
	if in.LockDays == 0 {
		in.LockDays = e.Config.Stake.DefaultLockDays
	}
	release, err := e.lockAgents(ctx, in.AgentID)
	if err != nil {
		return domain.StakePosition{}, err
	}
	defer release()

	var pos domain.StakePosition
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		a, err := e.agentTx(ctx, tx, in.AgentID)
		if err != nil {
			return err
		}
		if a.Status != domain.AgentActive {
			return fmt.Errorf("%w: %s is %s", ErrAgentNotActive, a.ID, a.Status)
		}
		now := e.now()
		lockedUntil := now.AddDate(0, 0, in.LockDays).Format(time.RFC3339)
		pos, err = e.Repo.GetStake(ctx, tx, in.AgentID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			pos = domain.StakePosition{
				AgentID:       in.AgentID,
				StakedAmount:  in.Amount,
				SlashedAmount: decimal.Zero,
				LockedUntil:   lockedUntil,
				Version:       1,
				CreatedAt:     now.Format(time.RFC3339),
				UpdatedAt:     now.Format(time.RFC3339),
			}
			pos.StakeTier = e.Config.TierThresholds().Tier(pos.StakedAmount)
			if err := e.Repo.InsertStake(ctx, tx, pos); err != nil {
				if repo.IsUniqueViolation(err) {
					return fmt.Errorf("%w: stake for %s created concurrently", ErrConcurrentModification, in.AgentID)
				}
				return err
			}
		case err != nil:
			return err
		default:
			expected := pos.Version
			pos.StakedAmount = pos.StakedAmount.Add(in.Amount)
			pos.StakeTier = e.Config.TierThresholds().Tier(pos.StakedAmount)
			pos.LockedUntil = lockedUntil
			pos.UpdatedAt = now.Format(time.RFC3339)
			if err := e.Repo.UpdateStake(ctx, tx, pos, expected); err != nil {
				return err
			}
			pos.Version = expected + 1
		}
		if err := e.touch(ctx, tx, in.AgentID); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.StakeDeposited, "stake", in.AgentID, in.ActorID, events.EventPayload{
			"amount":       in.Amount.String(),
			"staked":       pos.StakedAmount.String(),
			"tier":         pos.StakeTier,
			"locked_until": pos.LockedUntil,
		})
	})
	if err != nil {
		return domain.StakePosition{}, err
	}
	return pos, nil
}

type UnstakeInput struct {
	AgentID string
	Amount  decimal.Decimal
	ActorID string
}

// Unstake withdraws unslashed funds once the lock has expired.
func (e Engine) Unstake(ctx context.Context, in UnstakeInput) (domain.StakePosition, error) {
	if !in.Amount.IsPositive() {
		return domain.StakePosition{}, invalidf("unstake amount must be positive")
	}
	release, err := e.lockAgents(ctx, in.AgentID)
	if err != nil {
		return domain.StakePosition{}, err
	}
	defer release()

	var pos domain.StakePosition
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.agentTx(ctx, tx, in.AgentID); err != nil {
			return err
		}
		var err error
		pos, err = e.Repo.GetStake(ctx, tx, in.AgentID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s has no stake", ErrInsufficientStake, in.AgentID)
		}
		if err != nil {
			return err
		}
		lockedUntil, err := parseTS(pos.LockedUntil)
		if err != nil {
			return fmt.Errorf("stake %s locked_until: %w", in.AgentID, err)
		}
		if e.now().Before(lockedUntil) {
			return fmt.Errorf("%w: until %s", ErrStakeLocked, pos.LockedUntil)
		}
		if in.Amount.GreaterThan(pos.Available()) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientStake, in.Amount, pos.Available())
		}
		expected := pos.Version
		pos.StakedAmount = pos.StakedAmount.Sub(in.Amount)
		pos.StakeTier = e.Config.TierThresholds().Tier(pos.StakedAmount)
		pos.UpdatedAt = e.ts()
		if err := e.Repo.UpdateStake(ctx, tx, pos, expected); err != nil {
			return err
		}
		pos.Version = expected + 1
		if err := e.touch(ctx, tx, in.AgentID); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.StakeWithdrawn, "stake", in.AgentID, in.ActorID, events.EventPayload{
			"amount": in.Amount.String(),
			"staked": pos.StakedAmount.String(),
			"tier":   pos.StakeTier,
		})
	})
	if err != nil {
		return domain.StakePosition{}, err
	}
	return pos, nil
}

// GetStake returns the agent's position, or an empty none-tier position.
func (e Engine) GetStake(ctx context.Context, agentID string) (domain.StakePosition, error) {
	if _, err := e.GetAgent(ctx, agentID); err != nil {
		return domain.StakePosition{}, err
	}
	pos, err := e.Repo.GetStake(ctx, nil, agentID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.StakePosition{AgentID: agentID, StakeTier: domain.TierNone}, nil
	}
	return pos, err
}

// Slash burns part of the agent's unslashed stake. Agents without stake
// are not slashed and 0 is returned.
func (e Engine) Slash(ctx context.Context, agentID string, severity int, actorID string) (decimal.Decimal, error) {
	if severity <= 0 {
		return decimal.Zero, invalidf("severity must be positive")
	}
	release, err := e.lockAgents(ctx, agentID)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()
	var amount decimal.Decimal
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.agentTx(ctx, tx, agentID); err != nil {
			return err
		}
		var err error
		amount, err = e.slashTx(ctx, tx, agentID, severity, actorID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// SlashFraction is min(cap, severity*rate).
func (e Engine) SlashFraction(severity int) decimal.Decimal {
	rate := decimal.NewFromFloat(e.Config.Stake.SlashRatePerSeverity)
	limit := decimal.NewFromFloat(e.Config.Stake.SlashCap)
	return decimal.Min(limit, rate.Mul(decimal.NewFromInt(int64(severity))))
}

// slashTx must run with the agent's stake lock held.
func (e Engine) slashTx(ctx context.Context, tx *sql.Tx, agentID string, severity int, actorID string) (decimal.Decimal, error) {
	pos, err := e.Repo.GetStake(ctx, tx, agentID)
	if errors.Is(err, repo.ErrNotFound) {
		metrics.RecordSlash(false)
		e.Log.Info("slash skipped, agent has no stake", "agent_id", agentID, "severity", severity)
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	amount := pos.Available().Mul(e.SlashFraction(severity))
	if !amount.IsPositive() {
		metrics.RecordSlash(false)
		return decimal.Zero, nil
	}
	expected := pos.Version
	pos.SlashedAmount = pos.SlashedAmount.Add(amount)
	pos.UpdatedAt = e.ts()
	if err := e.Repo.UpdateStake(ctx, tx, pos, expected); err != nil {
		return decimal.Zero, err
	}
	if err := e.emit(ctx, tx, events.StakeSlashed, "stake", agentID, actorID, events.EventPayload{
		"severity": severity,
		"amount":   amount.String(),
		"slashed":  pos.SlashedAmount.String(),
		"staked":   pos.StakedAmount.String(),
	}); err != nil {
		return decimal.Zero, err
	}
	metrics.RecordSlash(true)
	e.Log.Warn("stake slashed", "agent_id", agentID, "severity", severity, "amount", amount.String())
	return amount, nil
}
