package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"hopline/internal/domain"
)

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.PaymentRecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO agent_payments(id,agent_id,tx_hash,client_address,amount,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.AgentID, p.TxHash, p.ClientAddress, p.Amount.String(), p.Status, p.CreatedAt)
	return err
}

func (r Repo) InsertFeedback(ctx context.Context, tx *sql.Tx, f domain.FeedbackRecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO feedback(id,agent_id,client_address,score,tag1,tag2,revoked,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		f.ID, f.AgentID, f.ClientAddress, f.Score, nullable(f.Tag1), nullable(f.Tag2), boolInt(f.Revoked), f.CreatedAt)
	return err
}

// PaymentStats counts all and completed payments for an agent.
func (r Repo) PaymentStats(ctx context.Context, tx *sql.Tx, agentID string) (total, completed int, err error) {
	err = r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END),0) FROM agent_payments WHERE agent_id=?`, agentID).
		Scan(&total, &completed)
	return total, completed, err
}

// FeedbackStats counts non-revoked feedback and averages its score.
func (r Repo) FeedbackStats(ctx context.Context, tx *sql.Tx, agentID string) (count int, avg float64, err error) {
	err = r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(score),0) FROM feedback WHERE agent_id=? AND revoked=0`, agentID).
		Scan(&count, &avg)
	return count, avg, err
}

// CompletedPayments returns an agent's completed payments, oldest first.
func (r Repo) CompletedPayments(ctx context.Context, tx *sql.Tx, agentID string) ([]domain.PaymentRecord, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,agent_id,tx_hash,client_address,amount,status,created_at FROM agent_payments
WHERE agent_id=? AND status='completed' ORDER BY created_at ASC, id ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PaymentRecord
	for rows.Next() {
		var (
			p      domain.PaymentRecord
			amount string
		)
		if err := rows.Scan(&p.ID, &p.AgentID, &p.TxHash, &p.ClientAddress, &amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("payment %s amount: %w", p.ID, err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// LastActivity returns the newest timestamp across the agent's hops,
// payments and client feedback, or "" when there is none. Penalty feedback
// written by the engine does not count as activity.
func (r Repo) LastActivity(ctx context.Context, tx *sql.Tx, agentID string) (string, error) {
	var ts sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT MAX(ts) FROM (
  SELECT MAX(created_at) AS ts FROM forward_hops WHERE from_agent=? OR to_agent=?
  UNION ALL SELECT MAX(created_at) FROM agent_payments WHERE agent_id=?
  UNION ALL SELECT MAX(created_at) FROM feedback WHERE agent_id=? AND client_address<>?
)`, agentID, agentID, agentID, agentID, domain.PenaltyClientAddress).Scan(&ts)
	if err != nil {
		return "", err
	}
	return ts.String, nil
}
