package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"hopline/internal/domain"
)

const hopColumns = `id,root_tx,from_agent,to_agent,hop_number,amount,detected_cycle,cycle_depth,created_at`

func scanHop(row interface{ Scan(...any) error }) (domain.ForwardHop, error) {
	var (
		h      domain.ForwardHop
		amount string
		cyclic int
		depth  sql.NullInt64
	)
	if err := row.Scan(&h.ID, &h.RootTx, &h.FromAgent, &h.ToAgent, &h.HopNumber, &amount, &cyclic, &depth, &h.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return h, ErrNotFound
		}
		return h, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return h, fmt.Errorf("hop %s amount: %w", h.ID, err)
	}
	h.Amount = d
	h.DetectedCycle = cyclic == 1
	if depth.Valid {
		v := int(depth.Int64)
		h.CycleDepth = &v
	}
	return h, nil
}

func (r Repo) InsertHop(ctx context.Context, tx *sql.Tx, h domain.ForwardHop) error {
	var depth any
	if h.CycleDepth != nil {
		depth = *h.CycleDepth
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO forward_hops(`+hopColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		h.ID, h.RootTx, h.FromAgent, h.ToAgent, h.HopNumber, h.Amount.String(), boolInt(h.DetectedCycle), depth, h.CreatedAt)
	return err
}

func (r Repo) queryHops(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.ForwardHop, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ForwardHop
	for rows.Next() {
		h, err := scanHop(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// HopsForRoot returns the hops of a root transaction ordered by hop number.
func (r Repo) HopsForRoot(ctx context.Context, tx *sql.Tx, rootTx string) ([]domain.ForwardHop, error) {
	return r.queryHops(ctx, tx, `SELECT `+hopColumns+` FROM forward_hops WHERE root_tx=? ORDER BY hop_number ASC`, rootTx)
}

// HopsByAgent returns hops the agent sent or received, newest first.
func (r Repo) HopsByAgent(ctx context.Context, tx *sql.Tx, agentID string, onlyCycles bool, limit int) ([]domain.ForwardHop, error) {
	query := `SELECT ` + hopColumns + ` FROM forward_hops WHERE (from_agent=? OR to_agent=?)`
	if onlyCycles {
		query += ` AND detected_cycle=1`
	}
	query += ` ORDER BY created_at DESC, hop_number DESC LIMIT ?`
	return r.queryHops(ctx, tx, query, agentID, agentID, limit)
}

// FlagCycle marks every hop of the root as part of a detected cycle.
func (r Repo) FlagCycle(ctx context.Context, tx *sql.Tx, rootTx string, depth int) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE forward_hops SET detected_cycle=1, cycle_depth=? WHERE root_tx=? AND (detected_cycle=0 OR cycle_depth IS NULL OR cycle_depth<>?)`,
		depth, rootTx, depth)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CycleRoot summarises one root transaction that holds a detected cycle.
type CycleRoot struct {
	RootTx     string `json:"root_tx"`
	CycleDepth int    `json:"cycle_depth"`
	HopCount   int    `json:"hop_count"`
	LastHopAt  string `json:"last_hop_at"`
}

// RecentCycleRoots lists flagged roots, most recent first.
func (r Repo) RecentCycleRoots(ctx context.Context, tx *sql.Tx, limit int) ([]CycleRoot, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT root_tx, COALESCE(MAX(cycle_depth),0), COUNT(*), MAX(created_at)
FROM forward_hops WHERE detected_cycle=1 GROUP BY root_tx ORDER BY MAX(created_at) DESC, root_tx ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CycleRoot
	for rows.Next() {
		var c CycleRoot
		if err := rows.Scan(&c.RootTx, &c.CycleDepth, &c.HopCount, &c.LastHopAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
