package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hopline/internal/cycle"
	"hopline/internal/domain"
	"hopline/internal/events"
	"hopline/internal/metrics"
	"hopline/internal/repo"
)

type ViolationInput struct {
	RootTx   string
	AgentID  string
	Severity int
	ActorID  string
}

// ReportViolation records a confirmed violation and slashes the agent.
// Each (root_tx, agent) pair is penalised once; a repeat returns the
// amount slashed the first time.
func (e Engine) ReportViolation(ctx context.Context, in ViolationInput) (domain.Violation, error) {
	if strings.TrimSpace(in.RootTx) == "" {
		return domain.Violation{}, invalidf("root_tx is required")
	}
	if in.Severity <= 0 {
		return domain.Violation{}, invalidf("severity must be positive")
	}
	release, err := e.lockAgents(ctx, in.AgentID)
	if err != nil {
		return domain.Violation{}, err
	}
	defer release()
	var v domain.Violation
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.agentTx(ctx, tx, in.AgentID); err != nil {
			return err
		}
		var err error
		v, _, err = e.penalizeTx(ctx, tx, in.RootTx, in.AgentID, in.Severity, 0, in.ActorID)
		return err
	})
	return v, err
}

// penalizeTx applies one violation inside tx: slash, violation row and,
// when penaltyPoints > 0, a penalty feedback record. The agent's stake
// lock must be held.
func (e Engine) penalizeTx(ctx context.Context, tx *sql.Tx, rootTx, agentID string, severity, penaltyPoints int, actorID string) (domain.Violation, bool, error) {
	existing, err := e.Repo.GetViolation(ctx, tx, rootTx, agentID)
	if err == nil {
		return existing, false, nil
	}
	if err != repo.ErrNotFound {
		return domain.Violation{}, false, err
	}
	if actorID == "" {
		actorID = "system"
	}
	slashed, err := e.slashTx(ctx, tx, agentID, severity, actorID)
	if err != nil {
		return domain.Violation{}, false, err
	}
	v := domain.Violation{
		ID:            uuid.NewString(),
		RootTx:        rootTx,
		AgentID:       agentID,
		Severity:      severity,
		SlashedAmount: slashed,
		ReportedBy:    actorID,
		CreatedAt:     e.ts(),
	}
	if _, err := e.Repo.InsertViolation(ctx, tx, v); err != nil {
		return domain.Violation{}, false, fmt.Errorf("insert violation: %w", err)
	}
	if penaltyPoints > 0 {
		fb := domain.FeedbackRecord{
			ID:            uuid.NewString(),
			AgentID:       agentID,
			ClientAddress: domain.PenaltyClientAddress,
			Score:         100 - penaltyPoints,
			Tag1:          domain.TagPaymentCycle,
			Tag2:          rootTx,
			CreatedAt:     v.CreatedAt,
		}
		if err := e.Repo.InsertFeedback(ctx, tx, fb); err != nil {
			return domain.Violation{}, false, fmt.Errorf("insert penalty feedback: %w", err)
		}
	}
	if err := e.emit(ctx, tx, events.ViolationRecorded, "agent", agentID, actorID, events.EventPayload{
		"root_tx":        rootTx,
		"severity":       severity,
		"slashed_amount": slashed.String(),
		"penalty_points": penaltyPoints,
	}); err != nil {
		return domain.Violation{}, false, err
	}
	metrics.RecordViolation()
	return v, true, nil
}

// Penalty is the outcome of reconciliation for one cycle agent.
type Penalty struct {
	AgentID        string          `json:"agent_id"`
	RootInitiator  bool            `json:"root_initiator"`
	PenaltyPoints  int             `json:"penalty_points"`
	SlashedAmount  decimal.Decimal `json:"slashed_amount"`
	AlreadyApplied bool            `json:"already_applied"`
}

type ReconcileReport struct {
	RootTx    string       `json:"root_tx"`
	Cycle     cycle.Result `json:"cycle"`
	Penalties []Penalty    `json:"penalties,omitempty"`
}

// PenaltyPoints is the reputation penalty for a cycle of the given depth.
func (e Engine) PenaltyPoints(depth int, rootInitiator bool) int {
	p := e.Config.Penalties
	points := depth * p.PointsPerDepth
	if points > p.MaxPoints {
		points = p.MaxPoints
	}
	if rootInitiator {
		points *= p.RootMultiplier
	}
	if points > 100 {
		points = 100
	}
	return points
}

// ReconcileChain flags a cyclic chain and penalises every agent in the
// loop once. The first agent of the loop is the root initiator and takes
// the multiplied penalty. Chains without a cycle are left untouched.
func (e Engine) ReconcileChain(ctx context.Context, rootTx, actorID string) (ReconcileReport, error) {
	report := ReconcileReport{RootTx: rootTx}
	release, err := e.lockChain(ctx, rootTx)
	if err != nil {
		return report, err
	}
	defer release()

	hops, err := e.Repo.HopsForRoot(ctx, nil, rootTx)
	if err != nil {
		return report, err
	}
	if len(hops) == 0 {
		return report, fmt.Errorf("chain %s: %w", rootTx, repo.ErrNotFound)
	}
	report.Cycle = cycle.Detect(hops, e.maxDepth())
	if !report.Cycle.HasCycle {
		return report, nil
	}
	releaseAgents, err := e.lockAgents(ctx, report.Cycle.CyclePath...)
	if err != nil {
		return report, err
	}
	defer releaseAgents()

	depth := report.Cycle.CycleDepth
	var flagged int64
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		report.Penalties = report.Penalties[:0]
		var err error
		flagged, err = e.Repo.FlagCycle(ctx, tx, rootTx, depth)
		if err != nil {
			return fmt.Errorf("flag cycle: %w", err)
		}
		if flagged > 0 {
			if err := e.emit(ctx, tx, events.CycleFlagged, "chain", rootTx, actorID, events.EventPayload{
				"cycle_path":  report.Cycle.CyclePath,
				"cycle_depth": depth,
			}); err != nil {
				return err
			}
		}
		for i, agentID := range report.Cycle.CyclePath {
			points := e.PenaltyPoints(depth, i == 0)
			v, inserted, err := e.penalizeTx(ctx, tx, rootTx, agentID, depth, points, actorID)
			if err != nil {
				return fmt.Errorf("penalize %s: %w", agentID, err)
			}
			report.Penalties = append(report.Penalties, Penalty{
				AgentID:        agentID,
				RootInitiator:  i == 0,
				PenaltyPoints:  points,
				SlashedAmount:  v.SlashedAmount,
				AlreadyApplied: !inserted,
			})
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	if flagged > 0 {
		metrics.RecordCycleDetected()
	}
	e.Log.Warn("payment cycle reconciled", "root_tx", rootTx, "cycle_path", report.Cycle.CyclePath, "cycle_depth", depth)
	return report, nil
}

type CycleReportResult struct {
	RootTx          string          `json:"root_tx"`
	Reporter        string          `json:"reporter"`
	PointsAwarded   int             `json:"points_awarded"`
	AlreadyReported bool            `json:"already_reported"`
	Reconcile       ReconcileReport `json:"reconcile"`
}

// ReportCycle rewards an outside agent for reporting a cyclic chain and
// reconciles the chain. Each reporter is rewarded once per chain.
func (e Engine) ReportCycle(ctx context.Context, rootTx, reporter, actorID string) (CycleReportResult, error) {
	res := CycleReportResult{RootTx: rootTx, Reporter: reporter}
	if _, err := e.GetAgent(ctx, reporter); err != nil {
		return res, err
	}
	hops, err := e.Repo.HopsForRoot(ctx, nil, rootTx)
	if err != nil {
		return res, err
	}
	detected := cycle.Detect(hops, e.maxDepth())
	if !detected.HasCycle {
		return res, fmt.Errorf("%w: %s", ErrNoCycle, rootTx)
	}
	for _, a := range detected.CyclePath {
		if a == reporter {
			return res, fmt.Errorf("%w: %s", ErrReporterInCycle, reporter)
		}
	}
	points := e.Config.Rewards.CycleReportPointsPerAgent * len(detected.CyclePath)
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		inserted, err := e.appendCredit(ctx, tx, domain.CooperationCredit{
			AgentID:    reporter,
			RewardType: domain.RewardCycleReport,
			Points:     points,
			Reference:  rootTx,
		}, actorID)
		if err != nil {
			return err
		}
		res.AlreadyReported = !inserted
		if inserted {
			res.PointsAwarded = points
			return e.touch(ctx, tx, reporter)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Reconcile, err = e.ReconcileChain(ctx, rootTx, actorID)
	return res, err
}

type CycleHistoryQuery struct {
	RootTx  string
	AgentID string
	Limit   int
}

type CycleHistory struct {
	Hops   []domain.ForwardHop `json:"hops,omitempty"`
	Cycle  *cycle.Result       `json:"cycle,omitempty"`
	Cycles []repo.CycleRoot    `json:"cycles,omitempty"`
}

// CycleHistory answers by root (all hops in order), by agent (cycle hops
// the agent took part in, newest first), or lists recent cyclic roots.
func (e Engine) CycleHistory(ctx context.Context, q CycleHistoryQuery) (CycleHistory, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	var (
		h   CycleHistory
		err error
	)
	switch {
	case q.RootTx != "":
		h.Hops, err = e.Repo.HopsForRoot(ctx, nil, q.RootTx)
		if err == nil {
			res := cycle.Detect(h.Hops, e.maxDepth())
			h.Cycle = &res
		}
	case q.AgentID != "":
		h.Hops, err = e.Repo.HopsByAgent(ctx, nil, q.AgentID, true, q.Limit)
	default:
		h.Cycles, err = e.Repo.RecentCycleRoots(ctx, nil, q.Limit)
	}
	return h, err
}

// ListViolations returns recorded violations, newest first.
func (e Engine) ListViolations(ctx context.Context, f repo.ViolationFilters) ([]domain.Violation, error) {
	return e.Repo.ListViolations(ctx, nil, f)
}
