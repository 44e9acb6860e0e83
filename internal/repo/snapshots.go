package repo

import (
	"context"
	"database/sql"

	"hopline/internal/domain"
)

// InsertSnapshot appends a reputation snapshot. Decay snapshots are unique
// per (agent, window_start); a repeat is ignored and reported as not inserted.
func (r Repo) InsertSnapshot(ctx context.Context, tx *sql.Tx, s domain.ReputationSnapshot) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO reputation_snapshots(id,agent_id,reputation_score,trust_level,decay_applied,window_start,snapshot_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.AgentID, s.ReputationScore, s.TrustLevel, boolInt(s.DecayApplied), nullable(s.WindowStart), s.SnapshotAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListSnapshots(ctx context.Context, tx *sql.Tx, agentID string, limit int) ([]domain.ReputationSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,agent_id,reputation_score,trust_level,decay_applied,COALESCE(window_start,''),snapshot_at
FROM reputation_snapshots WHERE agent_id=? ORDER BY snapshot_at DESC, id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReputationSnapshot
	for rows.Next() {
		var (
			s     domain.ReputationSnapshot
			decay int
		)
		if err := rows.Scan(&s.ID, &s.AgentID, &s.ReputationScore, &s.TrustLevel, &decay, &s.WindowStart, &s.SnapshotAt); err != nil {
			return nil, err
		}
		s.DecayApplied = decay == 1
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountDecaySnapshots counts decay markers written for an agent.
func (r Repo) CountDecaySnapshots(ctx context.Context, tx *sql.Tx, agentID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM reputation_snapshots WHERE agent_id=? AND decay_applied=1`, agentID).Scan(&n)
	return n, err
}
