package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"hopline/internal/domain"
)

// InsertViolation records a confirmed violation once per (root_tx, agent).
// It reports false when the pair was already recorded.
func (r Repo) InsertViolation(ctx context.Context, tx *sql.Tx, v domain.Violation) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO violations(id,root_tx,agent_id,severity,slashed_amount,reported_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.RootTx, v.AgentID, v.Severity, v.SlashedAmount.String(), v.ReportedBy, v.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetViolation(ctx context.Context, tx *sql.Tx, rootTx, agentID string) (domain.Violation, error) {
	vs, err := r.ListViolations(ctx, tx, ViolationFilters{RootTx: rootTx, AgentID: agentID, Limit: 1})
	if err != nil {
		return domain.Violation{}, err
	}
	if len(vs) == 0 {
		return domain.Violation{}, ErrNotFound
	}
	return vs[0], nil
}

func (r Repo) CountViolations(ctx context.Context, tx *sql.Tx, agentID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM violations WHERE agent_id=?`, agentID).Scan(&n)
	return n, err
}

type ViolationFilters struct {
	RootTx  string
	AgentID string
	Limit   int
}

func (r Repo) ListViolations(ctx context.Context, tx *sql.Tx, f ViolationFilters) ([]domain.Violation, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.RootTx != "" {
		clauses = append(clauses, "root_tx=?")
		args = append(args, f.RootTx)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	args = append(args, f.Limit)
	rows, err := r.q(tx).QueryContext(ctx, fmt.Sprintf(`SELECT id,root_tx,agent_id,severity,slashed_amount,reported_by,created_at FROM violations WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`,
		strings.Join(clauses, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Violation
	for rows.Next() {
		var (
			v       domain.Violation
			slashed string
		)
		if err := rows.Scan(&v.ID, &v.RootTx, &v.AgentID, &v.Severity, &slashed, &v.ReportedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		if v.SlashedAmount, err = decimal.NewFromString(slashed); err != nil {
			return nil, fmt.Errorf("violation %s slashed_amount: %w", v.ID, err)
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
