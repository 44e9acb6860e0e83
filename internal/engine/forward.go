package engine

import (
	"context"
	"database/sql"
	"errors"
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

// VerifyForward evaluates the safety policy against the committed chain.
// The verdict is advisory; RecordForward re-evaluates it atomically.
func (e Engine) VerifyForward(ctx context.Context, rootTx, source, target string) (domain.SafetyResult, error) {
	if strings.TrimSpace(rootTx) == "" {
		return domain.SafetyResult{}, invalidf("root_tx is required")
	}
	hops, err := e.Repo.HopsForRoot(ctx, nil, rootTx)
	if err != nil {
		return domain.SafetyResult{}, fmt.Errorf("load chain %s: %w", rootTx, err)
	}
	res := cycle.Verify(hops, source, target, e.maxDepth())
	metrics.RecordVerdict(res.Reason)
	return res, nil
}

type ForwardInput struct {
	RootTx    string
	Source    string
	Target    string
	HopNumber int
	Amount    decimal.Decimal
	// Force writes the hop even when the verdict is unsafe; a closed loop is
	// flagged on the chain for reconciliation. Store invariants still apply.
	Force   bool
	ActorID string
}

func (e Engine) validateForward(in ForwardInput) error {
	if strings.TrimSpace(in.RootTx) == "" {
		return invalidf("root_tx is required")
	}
	if in.Source == "" || in.Target == "" {
		return invalidf("source and target agents are required")
	}
	if in.Source == in.Target {
		return &ForwardRejectedError{RootTx: in.RootTx, Result: domain.SafetyResult{Reason: domain.ReasonSelfForward, ImplicatedAgents: []string{in.Source}}}
	}
	if in.HopNumber > e.maxDepth() {
		return fmt.Errorf("%w: hop %d exceeds max depth %d", ErrChainDepthExceeded, in.HopNumber, e.maxDepth())
	}
	if in.HopNumber < 1 {
		return invalidf("hop_number must be at least 1")
	}
	if in.Amount.IsNegative() {
		return invalidf("amount must not be negative")
	}
	return nil
}

// RecordForward verifies and writes one hop as a single unit under the
// chain lock and one transaction.
func (e Engine) RecordForward(ctx context.Context, in ForwardInput) (domain.ForwardHop, error) {
	if err := e.validateForward(in); err != nil {
		if _, ok := err.(*ForwardRejectedError); ok {
			metrics.RecordVerdict(domain.ReasonSelfForward)
		}
		return domain.ForwardHop{}, err
	}
	release, err := e.lockChain(ctx, in.RootTx)
	if err != nil {
		return domain.ForwardHop{}, err
	}
	defer release()

	hop := domain.ForwardHop{
		ID:        uuid.NewString(),
		RootTx:    in.RootTx,
		FromAgent: in.Source,
		ToAgent:   in.Target,
		HopNumber: in.HopNumber,
		Amount:    in.Amount,
		CreatedAt: e.ts(),
	}
	var (
		verdict  domain.SafetyResult
		detected cycle.Result
	)
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{in.Source, in.Target} {
			if _, err := e.agentTx(ctx, tx, id); err != nil {
				return err
			}
		}
		hops, err := e.Repo.HopsForRoot(ctx, tx, in.RootTx)
		if err != nil {
			return fmt.Errorf("load chain %s: %w", in.RootTx, err)
		}
		if err := checkHopNumber(hops, in.HopNumber); err != nil {
			return err
		}
		verdict = cycle.Verify(hops, in.Source, in.Target, e.maxDepth())
		metrics.RecordVerdict(verdict.Reason)
		if !verdict.Safe {
			if !in.Force {
				return &ForwardRejectedError{RootTx: in.RootTx, Result: verdict}
			}
			// A second outgoing hop breaks the single-path shape of the chain
			// and is never written, forced or not, whichever rule matched first.
			if hasOutgoing(hops, in.Source) {
				return &ForwardRejectedError{RootTx: in.RootTx, Result: domain.SafetyResult{
					Reason:           domain.ReasonDuplicateHop,
					ImplicatedAgents: []string{in.Source},
				}}
			}
		}
		if err := e.Repo.InsertHop(ctx, tx, hop); err != nil {
			if repo.IsUniqueViolation(err) {
				return fmt.Errorf("%w: hop %d on %s was written concurrently", ErrConcurrentModification, in.HopNumber, in.RootTx)
			}
			return fmt.Errorf("insert hop: %w", err)
		}
		if !verdict.Safe {
			detected = cycle.Detect(append(hops, hop), e.maxDepth())
			if detected.HasCycle {
				if _, err := e.Repo.FlagCycle(ctx, tx, in.RootTx, detected.CycleDepth); err != nil {
					return fmt.Errorf("flag cycle: %w", err)
				}
				depth := detected.CycleDepth
				hop.DetectedCycle = true
				hop.CycleDepth = &depth
				if err := e.emit(ctx, tx, events.CycleFlagged, "chain", in.RootTx, in.ActorID, events.EventPayload{
					"cycle_path":  detected.CyclePath,
					"cycle_depth": detected.CycleDepth,
				}); err != nil {
					return err
				}
			}
		}
		if err := e.touch(ctx, tx, in.Source, in.Target); err != nil {
			return err
		}
		if verdict.Safe {
			if err := e.creditHonestForward(ctx, tx, hop); err != nil {
				return err
			}
		}
		return e.emit(ctx, tx, events.ForwardRecorded, "hop", hop.ID, in.ActorID, events.EventPayload{
			"root_tx":    hop.RootTx,
			"from_agent": hop.FromAgent,
			"to_agent":   hop.ToAgent,
			"hop_number": hop.HopNumber,
			"amount":     hop.Amount.String(),
			"forced":     !verdict.Safe,
		})
	})
	if err != nil {
		var rejected *ForwardRejectedError
		if errors.As(err, &rejected) {
			e.Log.Warn("forward rejected", "root_tx", in.RootTx, "source", in.Source, "target", in.Target, "reason", rejected.Result.Reason)
		}
		return domain.ForwardHop{}, err
	}
	metrics.RecordForward(!verdict.Safe)
	if detected.HasCycle {
		metrics.RecordCycleDetected()
		e.Log.Warn("payment cycle recorded", "root_tx", in.RootTx, "cycle_path", detected.CyclePath, "cycle_depth", detected.CycleDepth)
	}
	return hop, nil
}

func hasOutgoing(hops []domain.ForwardHop, agent string) bool {
	for _, h := range hops {
		if h.FromAgent == agent {
			return true
		}
	}
	return false
}

// checkHopNumber keeps hop numbers starting at 1 and strictly increasing.
func checkHopNumber(hops []domain.ForwardHop, hopNumber int) error {
	if len(hops) == 0 {
		if hopNumber != 1 {
			return invalidf("first hop of a chain must be hop 1, got %d", hopNumber)
		}
		return nil
	}
	last := hops[len(hops)-1].HopNumber
	if hopNumber <= last {
		return invalidf("hop_number %d must be greater than %d", hopNumber, last)
	}
	return nil
}

// ChainView is a root transaction with its derived path and cycle state.
type ChainView struct {
	RootTx string              `json:"root_tx"`
	Hops   []domain.ForwardHop `json:"hops"`
	Path   []string            `json:"path"`
	Cycle  cycle.Result        `json:"cycle"`
}

func (e Engine) ChainStatus(ctx context.Context, rootTx string) (ChainView, error) {
	hops, err := e.Repo.HopsForRoot(ctx, nil, rootTx)
	if err != nil {
		return ChainView{}, err
	}
	if len(hops) == 0 {
		return ChainView{}, fmt.Errorf("chain %s: %w", rootTx, repo.ErrNotFound)
	}
	return ChainView{
		RootTx: rootTx,
		Hops:   hops,
		Path:   cycle.Path(hops),
		Cycle:  cycle.Detect(hops, e.maxDepth()),
	}, nil
}
