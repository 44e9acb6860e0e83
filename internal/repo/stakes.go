package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"hopline/internal/domain"
)

func (r Repo) GetStake(ctx context.Context, tx *sql.Tx, agentID string) (domain.StakePosition, error) {
	var (
		p               domain.StakePosition
		staked, slashed string
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT agent_id,staked_amount,slashed_amount,stake_tier,locked_until,version,created_at,updated_at FROM stakes WHERE agent_id=?`, agentID).
		Scan(&p.AgentID, &staked, &slashed, &p.StakeTier, &p.LockedUntil, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if p.StakedAmount, err = decimal.NewFromString(staked); err != nil {
		return p, fmt.Errorf("stake %s staked_amount: %w", agentID, err)
	}
	if p.SlashedAmount, err = decimal.NewFromString(slashed); err != nil {
		return p, fmt.Errorf("stake %s slashed_amount: %w", agentID, err)
	}
	return p, nil
}

func (r Repo) InsertStake(ctx context.Context, tx *sql.Tx, p domain.StakePosition) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO stakes(agent_id,staked_amount,slashed_amount,stake_tier,locked_until,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.AgentID, p.StakedAmount.String(), p.SlashedAmount.String(), p.StakeTier, p.LockedUntil, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

// UpdateStake writes p if the stored row still has expectedVersion, and
// bumps the version. A stale version yields ErrVersionConflict.
func (r Repo) UpdateStake(ctx context.Context, tx *sql.Tx, p domain.StakePosition, expectedVersion int64) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE stakes SET staked_amount=?, slashed_amount=?, stake_tier=?, locked_until=?, version=version+1, updated_at=?
WHERE agent_id=? AND version=?`,
		p.StakedAmount.String(), p.SlashedAmount.String(), p.StakeTier, p.LockedUntil, p.UpdatedAt, p.AgentID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}
