package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"hopline/internal/domain"
)

// InsertCredit appends a credit. Credits that carry a reference are unique
// per (agent, reward type, reference); a repeat is ignored and reported as
// not inserted.
func (r Repo) InsertCredit(ctx context.Context, tx *sql.Tx, c domain.CooperationCredit) (bool, error) {
	var monetary any
	if c.MonetaryReward != nil {
		monetary = c.MonetaryReward.String()
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO cooperation_credits(id,agent_id,reward_type,points,monetary_reward,reference,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.AgentID, c.RewardType, c.Points, monetary, nullable(c.Reference), c.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListCredits(ctx context.Context, tx *sql.Tx, agentID string, limit int) ([]domain.CooperationCredit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,agent_id,reward_type,points,monetary_reward,COALESCE(reference,''),created_at
FROM cooperation_credits WHERE agent_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CooperationCredit
	for rows.Next() {
		var (
			c        domain.CooperationCredit
			monetary sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.AgentID, &c.RewardType, &c.Points, &monetary, &c.Reference, &c.CreatedAt); err != nil {
			return nil, err
		}
		if monetary.Valid {
			d, err := decimal.NewFromString(monetary.String)
			if err != nil {
				return nil, fmt.Errorf("credit %s monetary_reward: %w", c.ID, err)
			}
			c.MonetaryReward = &d
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CreditSummary totals an agent's cooperation credits.
func (r Repo) CreditSummary(ctx context.Context, tx *sql.Tx, agentID string) (domain.CooperationSummary, error) {
	sum := domain.CooperationSummary{AgentID: agentID, TotalMonetary: decimal.Zero}
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(SUM(points),0), COUNT(*), COUNT(DISTINCT reward_type) FROM cooperation_credits WHERE agent_id=?`, agentID).
		Scan(&sum.TotalPoints, &sum.CreditCount, &sum.UniqueRewardTypes)
	if err != nil {
		return sum, err
	}
	// monetary_reward is a decimal string column; sum it exactly here.
	rows, err := r.q(tx).QueryContext(ctx, `SELECT monetary_reward FROM cooperation_credits WHERE agent_id=? AND monetary_reward IS NOT NULL`, agentID)
	if err != nil {
		return sum, err
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return sum, err
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return sum, fmt.Errorf("monetary_reward %q: %w", v, err)
		}
		sum.TotalMonetary = sum.TotalMonetary.Add(d)
	}
	return sum, rows.Err()
}
