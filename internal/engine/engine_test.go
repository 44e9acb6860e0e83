package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"hopline/internal/config"
	"hopline/internal/db"
	"hopline/internal/domain"
	"hopline/internal/engine"
	"hopline/internal/migrate"
	"hopline/internal/repo"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *testClock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default(), nil)
	eng.Now = clock.Now
	return testEnv{Engine: eng, Ctx: ctx, Clock: clock}
}

func (env testEnv) agents(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := env.Engine.RegisterAgent(env.Ctx, engine.AgentInput{ID: id, OwnerAddress: "0xowner-" + id, ActorID: "tester"}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
}

func (env testEnv) forward(t *testing.T, root, from, to string, hop int, force bool) domain.ForwardHop {
	t.Helper()
	h, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{
		RootTx: root, Source: from, Target: to, HopNumber: hop,
		Amount: decimal.NewFromInt(50), Force: force, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("forward %s %s->%s: %v", root, from, to, err)
	}
	return h
}

// cyclicChain writes a -> b -> c -> a on root, closing the loop with a forced hop.
func (env testEnv) cyclicChain(t *testing.T, root string) {
	t.Helper()
	env.forward(t, root, "a", "b", 1, false)
	env.forward(t, root, "b", "c", 2, false)
	h := env.forward(t, root, "c", "a", 3, true)
	if !h.DetectedCycle || h.CycleDepth == nil || *h.CycleDepth != 3 {
		t.Fatalf("expected forced hop to flag a depth 3 cycle, got %+v", h)
	}
}

func TestRecordForwardRejectsSelfForward(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a")
	_, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{RootTx: "r1", Source: "a", Target: "a", HopNumber: 1})
	if !errors.Is(err, engine.ErrSelfForward) {
		t.Fatalf("expected self forward, got %v", err)
	}
	var rejected *engine.ForwardRejectedError
	if !errors.As(err, &rejected) || rejected.Result.Reason != domain.ReasonSelfForward {
		t.Fatalf("expected rejection verdict, got %v", err)
	}
}

func TestRecordForwardDepthBound(t *testing.T) {
	env := newTestEnv(t)
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("agent-%02d", i)
	}
	env.agents(t, ids...)
	for hop := 1; hop <= 10; hop++ {
		env.forward(t, "r1", ids[hop-1], ids[hop], hop, false)
	}
	_, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{RootTx: "r1", Source: ids[10], Target: ids[11], HopNumber: 11})
	if !errors.Is(err, engine.ErrChainDepthExceeded) {
		t.Fatalf("expected depth exceeded on the 11th hop, got %v", err)
	}
	hops, err := env.Engine.Repo.HopsForRoot(env.Ctx, nil, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hops) != 10 {
		t.Fatalf("expected 10 hops, got %d", len(hops))
	}
}

func TestForcedForwardRejectsSecondOutgoingHop(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c", "d")
	env.cyclicChain(t, "r1")
	env.forward(t, "r2", "a", "b", 1, false)
	env.forward(t, "r2", "b", "c", 2, false)

	cases := []struct {
		name   string
		root   string
		source string
		target string
		hop    int
		count  int
	}{
		{name: "cyclic chain", root: "r1", source: "a", target: "d", hop: 4, count: 3},
		{name: "target upstream", root: "r2", source: "a", target: "b", hop: 3, count: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{
				RootTx: tc.root, Source: tc.source, Target: tc.target, HopNumber: tc.hop,
				Amount: decimal.NewFromInt(50), Force: true, ActorID: "tester",
			})
			if !errors.Is(err, engine.ErrDuplicateHop) {
				t.Fatalf("expected duplicate hop, got %v", err)
			}
			if errors.Is(err, engine.ErrConcurrentModification) {
				t.Fatalf("duplicate hop must not be reported as retryable: %v", err)
			}
			var rejected *engine.ForwardRejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("expected rejection verdict, got %v", err)
			}
			want := domain.SafetyResult{Reason: domain.ReasonDuplicateHop, ImplicatedAgents: []string{tc.source}}
			if diff := cmp.Diff(want, rejected.Result); diff != "" {
				t.Fatalf("verdict mismatch (-want +got):\n%s", diff)
			}
			hops, err := env.Engine.Repo.HopsForRoot(env.Ctx, nil, tc.root)
			if err != nil {
				t.Fatal(err)
			}
			if len(hops) != tc.count {
				t.Fatalf("expected %d hops, got %d", tc.count, len(hops))
			}
		})
	}
}

func TestRecordForwardHopNumbering(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c")
	if _, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{RootTx: "r1", Source: "a", Target: "b", HopNumber: 2}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected first hop to be 1, got %v", err)
	}
	env.forward(t, "r1", "a", "b", 1, false)
	if _, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{RootTx: "r1", Source: "b", Target: "c", HopNumber: 1}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected increasing hop numbers, got %v", err)
	}
}

func TestRecordForwardUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a")
	_, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{RootTx: "r1", Source: "a", Target: "ghost", HopNumber: 1})
	if !errors.Is(err, engine.ErrAgentNotFound) {
		t.Fatalf("expected agent not found, got %v", err)
	}
}

func TestVerifyForwardVerdicts(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c", "d")
	env.forward(t, "r1", "a", "b", 1, false)
	env.forward(t, "r1", "b", "c", 2, false)

	cases := []struct {
		source, target string
		want           domain.SafetyResult
	}{
		{"c", "a", domain.SafetyResult{Reason: domain.ReasonWouldCreateCycle, ImplicatedAgents: []string{"a", "b", "c"}}},
		{"c", "d", domain.SafetyResult{Safe: true, Reason: domain.ReasonSafe}},
		{"a", "d", domain.SafetyResult{Reason: domain.ReasonDuplicateHop, ImplicatedAgents: []string{"a"}}},
		{"d", "d", domain.SafetyResult{Reason: domain.ReasonSelfForward, ImplicatedAgents: []string{"d"}}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.source, tc.target), func(t *testing.T) {
			got, err := env.Engine.VerifyForward(env.Ctx, "r1", tc.source, tc.target)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("verdict mismatch (-want +got):\n%s", diff)
			}
		})
	}

	// verifying never writes
	view, err := env.Engine.ChainStatus(env.Ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, view.Path); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordForwardRejectsUnsafeWithoutForce(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c")
	env.forward(t, "r1", "a", "b", 1, false)
	env.forward(t, "r1", "b", "c", 2, false)
	_, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{RootTx: "r1", Source: "c", Target: "a", HopNumber: 3})
	if !errors.Is(err, engine.ErrWouldCreateCycle) {
		t.Fatalf("expected would-create-cycle, got %v", err)
	}
	_, err = env.Engine.RecordForward(env.Ctx, engine.ForwardInput{RootTx: "r1", Source: "a", Target: "c", HopNumber: 3, Force: true})
	if !errors.Is(err, engine.ErrDuplicateHop) {
		t.Fatalf("duplicate hops must never be written, got %v", err)
	}
	view, err := env.Engine.ChainStatus(env.Ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Hops) != 2 || view.Cycle.HasCycle {
		t.Fatalf("chain changed by rejected forwards: %+v", view)
	}
}

func TestForcedForwardFlagsCycle(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c", "d")
	env.cyclicChain(t, "r1")

	view, err := env.Engine.ChainStatus(env.Ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range view.Hops {
		if !h.DetectedCycle {
			t.Fatalf("hop %d not flagged", h.HopNumber)
		}
	}
	got, err := env.Engine.VerifyForward(env.Ctx, "r1", "d", "b")
	if err != nil {
		t.Fatal(err)
	}
	if got.Reason != domain.ReasonExistingCycle {
		t.Fatalf("expected existing_cycle, got %+v", got)
	}
}

func TestConcurrentForwardsOnOneRoot(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c", "d")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, pair := range [][2]string{{"a", "b"}, {"c", "d"}, {"b", "c"}, {"d", "a"}} {
		wg.Add(1)
		go func(from, to string) {
			defer wg.Done()
			_, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{RootTx: "r1", Source: from, Target: to, HopNumber: 1})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(pair[0], pair[1])
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one hop 1 to win, got %d", successes)
	}
	hops, err := env.Engine.Repo.HopsForRoot(env.Ctx, nil, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hops) != 1 {
		t.Fatalf("expected one hop, got %d", len(hops))
	}
}

// Both hops look safe against a->b alone; together they would close b->c->b.
func TestConcurrentForwardsCannotCloseLoop(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c")

	for i := 0; i < 10; i++ {
		root := fmt.Sprintf("race-%d", i)
		env.forward(t, root, "a", "b", 1, false)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for j, in := range []engine.ForwardInput{
			{RootTx: root, Source: "b", Target: "c", HopNumber: 2},
			{RootTx: root, Source: "c", Target: "b", HopNumber: 3},
		} {
			wg.Add(1)
			go func(j int, in engine.ForwardInput) {
				defer wg.Done()
				<-start
				_, errs[j] = env.Engine.RecordForward(env.Ctx, in)
			}(j, in)
		}
		close(start)
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
			}
		}
		if successes != 1 {
			t.Fatalf("%s: expected exactly one forward to win, got errors %v", root, errs)
		}
		view, err := env.Engine.ChainStatus(env.Ctx, root)
		if err != nil {
			t.Fatal(err)
		}
		if view.Cycle.HasCycle || len(view.Hops) != 2 {
			t.Fatalf("%s: expected an acyclic two hop chain, got %+v", root, view)
		}
	}
}

func TestHonestForwardCredit(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b")
	_, err := env.Engine.RecordForward(env.Ctx, engine.ForwardInput{
		RootTx: "r1", Source: "a", Target: "b", HopNumber: 1, Amount: decimal.RequireFromString("55.5"),
	})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := env.Engine.CooperationSummary(env.Ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalPoints != 5 || sum.CreditCount != 1 {
		t.Fatalf("expected 5 points in one credit, got %+v", sum)
	}
	credits, err := env.Engine.ListCredits(env.Ctx, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if credits[0].RewardType != domain.RewardHonestForward || credits[0].Reference != "r1" {
		t.Fatalf("unexpected credit %+v", credits[0])
	}
	if pts := env.Engine.HonestForwardPoints(decimal.NewFromInt(5000)); pts != 10 {
		t.Fatalf("expected points capped at 10, got %d", pts)
	}
}

func TestReconcileChainIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c")
	if _, err := env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "b", Amount: decimal.NewFromInt(1000)}); err != nil {
		t.Fatal(err)
	}
	env.cyclicChain(t, "r1")

	rep, err := env.Engine.ReconcileChain(env.Ctx, "r1", "tester")
	if err != nil {
		t.Fatal(err)
	}
	want := []engine.Penalty{
		{AgentID: "a", RootInitiator: true, PenaltyPoints: 60, SlashedAmount: decimal.Zero},
		{AgentID: "b", PenaltyPoints: 30, SlashedAmount: decimal.NewFromInt(300)},
		{AgentID: "c", PenaltyPoints: 30, SlashedAmount: decimal.Zero},
	}
	opt := cmp.Comparer(func(x, y decimal.Decimal) bool { return x.Equal(y) })
	if diff := cmp.Diff(want, rep.Penalties, opt); diff != "" {
		t.Fatalf("penalties mismatch (-want +got):\n%s", diff)
	}

	again, err := env.Engine.ReconcileChain(env.Ctx, "r1", "tester")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range again.Penalties {
		if !p.AlreadyApplied {
			t.Fatalf("second reconcile re-applied %+v", p)
		}
	}
	pos, err := env.Engine.GetStake(env.Ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.SlashedAmount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected a single slash of 300, got %s", pos.SlashedAmount)
	}
	vs, err := env.Engine.ListViolations(env.Ctx, repo.ViolationFilters{RootTx: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 3 {
		t.Fatalf("expected three violations, got %d", len(vs))
	}
	tr, err := env.Engine.GetTrust(env.Ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if tr.TrustLevel != domain.TrustUntrusted || tr.Breakdown.ReputationScore != 40 {
		t.Fatalf("expected untrusted with penalty feedback 40, got %+v", tr)
	}
}

func TestReconcileAcyclicChainIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b")
	env.forward(t, "r1", "a", "b", 1, false)
	rep, err := env.Engine.ReconcileChain(env.Ctx, "r1", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Cycle.HasCycle || len(rep.Penalties) != 0 {
		t.Fatalf("expected no penalties, got %+v", rep)
	}
	if _, err := env.Engine.ReconcileChain(env.Ctx, "missing", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReportCycleRewards(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c", "d", "e", "f")
	env.cyclicChain(t, "r1")
	env.forward(t, "r2", "e", "f", 1, false)

	if _, err := env.Engine.ReportCycle(env.Ctx, "r1", "a", "a"); !errors.Is(err, engine.ErrReporterInCycle) {
		t.Fatalf("expected reporter in cycle, got %v", err)
	}
	if _, err := env.Engine.ReportCycle(env.Ctx, "r2", "d", "d"); !errors.Is(err, engine.ErrNoCycle) {
		t.Fatalf("expected no cycle, got %v", err)
	}

	res, err := env.Engine.ReportCycle(env.Ctx, "r1", "d", "d")
	if err != nil {
		t.Fatal(err)
	}
	if res.PointsAwarded != 45 || res.AlreadyReported || len(res.Reconcile.Penalties) != 3 {
		t.Fatalf("unexpected report result %+v", res)
	}
	res, err = env.Engine.ReportCycle(env.Ctx, "r1", "d", "d")
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyReported || res.PointsAwarded != 0 {
		t.Fatalf("expected repeat report to be unrewarded, got %+v", res)
	}
	sum, err := env.Engine.CooperationSummary(env.Ctx, "d")
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalPoints != 45 {
		t.Fatalf("expected 45 points, got %d", sum.TotalPoints)
	}
}

func TestCycleHistory(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b", "c", "x", "y")
	env.cyclicChain(t, "r1")
	env.forward(t, "r2", "x", "y", 1, false)

	recent, err := env.Engine.CycleHistory(env.Ctx, engine.CycleHistoryQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent.Cycles) != 1 || recent.Cycles[0].RootTx != "r1" || recent.Cycles[0].CycleDepth != 3 {
		t.Fatalf("unexpected recent cycles %+v", recent.Cycles)
	}
	byAgent, err := env.Engine.CycleHistory(env.Ctx, engine.CycleHistoryQuery{AgentID: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAgent.Hops) != 2 {
		t.Fatalf("expected b in two cycle hops, got %d", len(byAgent.Hops))
	}
	clean, err := env.Engine.CycleHistory(env.Ctx, engine.CycleHistoryQuery{AgentID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(clean.Hops) != 0 {
		t.Fatalf("expected no cycle hops for x, got %d", len(clean.Hops))
	}
}

func TestStakeTiersAndLock(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a")
	pos, err := env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "a", Amount: decimal.NewFromInt(999)})
	if err != nil {
		t.Fatal(err)
	}
	if pos.StakeTier != domain.TierBronze {
		t.Fatalf("expected bronze, got %s", pos.StakeTier)
	}
	pos, err = env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "a", Amount: decimal.NewFromInt(1), LockDays: 7})
	if err != nil {
		t.Fatal(err)
	}
	if pos.StakeTier != domain.TierSilver || pos.LockedUntil != "2024-01-08T00:00:00Z" {
		t.Fatalf("unexpected position %+v", pos)
	}

	_, err = env.Engine.Unstake(env.Ctx, engine.UnstakeInput{AgentID: "a", Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, engine.ErrStakeLocked) {
		t.Fatalf("expected stake locked, got %v", err)
	}
	env.Clock.Advance(8 * 24 * time.Hour)
	_, err = env.Engine.Unstake(env.Ctx, engine.UnstakeInput{AgentID: "a", Amount: decimal.NewFromInt(2000)})
	if !errors.Is(err, engine.ErrInsufficientStake) {
		t.Fatalf("expected insufficient stake, got %v", err)
	}
	pos, err = env.Engine.Unstake(env.Ctx, engine.UnstakeInput{AgentID: "a", Amount: decimal.NewFromInt(900)})
	if err != nil {
		t.Fatal(err)
	}
	if !pos.StakedAmount.Equal(decimal.NewFromInt(100)) || pos.StakeTier != domain.TierBronze {
		t.Fatalf("unexpected position after unstake %+v", pos)
	}
}

func TestStakeRequiresActiveAgent(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a")
	if _, err := env.Engine.SetAgentStatus(env.Ctx, "a", domain.AgentSuspended, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "a", Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, engine.ErrAgentNotActive) {
		t.Fatalf("expected not active, got %v", err)
	}
	if err := env.Engine.EnsureActive(env.Ctx, "a"); !errors.Is(err, engine.ErrAgentNotActive) {
		t.Fatalf("expected gate to refuse suspended agent, got %v", err)
	}
	if _, err := env.Engine.SetAgentStatus(env.Ctx, "a", domain.AgentRevoked, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetAgentStatus(env.Ctx, "a", domain.AgentActive, "tester"); !errors.Is(err, engine.ErrAgentRevoked) {
		t.Fatalf("revoked agents must stay revoked, got %v", err)
	}
}

func TestSlashCap(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b")
	if _, err := env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "a", Amount: decimal.NewFromInt(1000)}); err != nil {
		t.Fatal(err)
	}
	amount, err := env.Engine.Slash(env.Ctx, "a", 100, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected slash capped at 500, got %s", amount)
	}
	amount, err = env.Engine.Slash(env.Ctx, "a", 1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected 10%% of the remaining 500, got %s", amount)
	}
	amount, err = env.Engine.Slash(env.Ctx, "b", 5, "tester")
	if err != nil || !amount.IsZero() {
		t.Fatalf("unstaked agents are not slashed: %s, %v", amount, err)
	}
}

func TestStakeInvariantUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a")
	if _, err := env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "a", Amount: decimal.NewFromInt(1000), LockDays: 1}); err != nil {
		t.Fatal(err)
	}
	env.Clock.Advance(48 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = env.Engine.Slash(env.Ctx, "a", 5, "tester")
		}()
		go func() {
			defer wg.Done()
			_, _ = env.Engine.Unstake(env.Ctx, engine.UnstakeInput{AgentID: "a", Amount: decimal.NewFromInt(120)})
		}()
	}
	wg.Wait()
	pos, err := env.Engine.GetStake(env.Ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if pos.StakedAmount.LessThan(pos.SlashedAmount) {
		t.Fatalf("staked %s below slashed %s", pos.StakedAmount, pos.SlashedAmount)
	}
	if pos.StakedAmount.IsNegative() {
		t.Fatalf("negative stake %s", pos.StakedAmount)
	}
}

func TestReportViolationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a")
	if _, err := env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "a", Amount: decimal.NewFromInt(200)}); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.ReportViolation(env.Ctx, engine.ViolationInput{RootTx: "r9", AgentID: "a", Severity: 2, ActorID: "auditor"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.ReportViolation(env.Ctx, engine.ViolationInput{RootTx: "r9", AgentID: "a", Severity: 2, ActorID: "auditor"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID || !second.SlashedAmount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected the original violation back, got %+v and %+v", first, second)
	}
}

func TestTrustScenario(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "x")

	tr, err := env.Engine.GetTrust(env.Ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if tr.TrustLevel != domain.TrustNew {
		t.Fatalf("expected new, got %s", tr.TrustLevel)
	}

	if _, err := env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "x", Amount: decimal.NewFromInt(10000)}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		_, err := env.Engine.RecordPayment(env.Ctx, engine.PaymentInput{
			AgentID:       "x",
			TxHash:        fmt.Sprintf("0xtx%d", i),
			ClientAddress: fmt.Sprintf("0xclient%d", i),
			Amount:        decimal.NewFromInt(150),
		})
		if err != nil {
			t.Fatal(err)
		}
		env.Clock.Advance(24 * time.Hour)
	}
	if _, err := env.Engine.SubmitFeedback(env.Ctx, engine.FeedbackInput{AgentID: "x", ClientAddress: "0xclient1", Score: 90}); err != nil {
		t.Fatal(err)
	}
	tr, err = env.Engine.GetTrust(env.Ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if tr.TrustLevel != domain.TrustExcellent {
		t.Fatalf("expected excellent, got %s (%+v)", tr.TrustLevel, tr.Breakdown)
	}

	if _, err := env.Engine.ReportViolation(env.Ctx, engine.ViolationInput{RootTx: "r1", AgentID: "x", Severity: 1}); err != nil {
		t.Fatal(err)
	}
	tr, err = env.Engine.GetTrust(env.Ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if tr.TrustLevel != domain.TrustUntrusted {
		t.Fatalf("expected untrusted, got %s", tr.TrustLevel)
	}
}

func TestTrustSybilFloor(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "s")
	if _, err := env.Engine.Stake(env.Ctx, engine.StakeInput{AgentID: "s", Amount: decimal.NewFromInt(10000)}); err != nil {
		t.Fatal(err)
	}
	// one colluding counterparty, dust amounts, all on the same day
	for i := 0; i < 20; i++ {
		_, err := env.Engine.RecordPayment(env.Ctx, engine.PaymentInput{
			AgentID: "s", TxHash: fmt.Sprintf("0xs%d", i), ClientAddress: "0xfriend", Amount: decimal.NewFromInt(1),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.SubmitFeedback(env.Ctx, engine.FeedbackInput{AgentID: "s", ClientAddress: "0xfriend", Score: 100}); err != nil {
		t.Fatal(err)
	}
	tr, err := env.Engine.GetTrust(env.Ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if tr.TrustLevel != domain.TrustSybilRisk {
		t.Fatalf("expected sybil_risk, got %s (sybil %.2f)", tr.TrustLevel, tr.Breakdown.SybilScore)
	}
}

func TestRecordPaymentRejectsDuplicateHash(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a")
	in := engine.PaymentInput{AgentID: "a", TxHash: "0xdup", ClientAddress: "0xc", Amount: decimal.NewFromInt(1)}
	if _, err := env.Engine.RecordPayment(env.Ctx, in); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordPayment(env.Ctx, in); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := env.Engine.SubmitFeedback(env.Ctx, engine.FeedbackInput{AgentID: "a", ClientAddress: "0xc", Score: 101}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected score range error, got %v", err)
	}
}

func TestDecayPassIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "idle", "busy", "parked")
	if _, err := env.Engine.SetAgentStatus(env.Ctx, "parked", domain.AgentSuspended, "tester"); err != nil {
		t.Fatal(err)
	}
	env.Clock.Advance(20 * 24 * time.Hour)
	if _, err := env.Engine.SubmitFeedback(env.Ctx, engine.FeedbackInput{AgentID: "busy", ClientAddress: "0xc", Score: 70}); err != nil {
		t.Fatal(err)
	}
	env.Clock.Advance(15 * 24 * time.Hour)

	rep, err := env.Engine.RunDecayPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.AgentsScanned != 2 || rep.SnapshotsWritten != 1 {
		t.Fatalf("unexpected first pass %+v", rep)
	}
	rep, err = env.Engine.RunDecayPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.SnapshotsWritten != 0 {
		t.Fatalf("second pass in the same window wrote %d snapshots", rep.SnapshotsWritten)
	}

	snaps, err := env.Engine.ListSnapshots(env.Ctx, "idle", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.ReputationSnapshot{{
		AgentID:      "idle",
		TrustLevel:   domain.TrustNew,
		DecayApplied: true,
		WindowStart:  "2024-01-31T00:00:00Z",
		SnapshotAt:   "2024-02-05T00:00:00Z",
	}}
	if diff := cmp.Diff(want, snaps, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".ID"
	}, cmp.Ignore())); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	env.Clock.Advance(30 * 24 * time.Hour)
	rep, err = env.Engine.RunDecayPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.SnapshotsWritten != 2 {
		t.Fatalf("expected a new window for both idle agents, got %+v", rep)
	}
}

func TestCreditRejectsDuplicateReference(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a")
	in := engine.CreditInput{AgentID: "a", RewardType: domain.RewardNetworkContribution, Points: 3, Reference: "ref-1"}
	if _, err := env.Engine.Credit(env.Ctx, in); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Credit(env.Ctx, in); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected duplicate reference rejection, got %v", err)
	}
	in.RewardType = "bogus"
	if _, err := env.Engine.Credit(env.Ctx, in); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected unknown reward type rejection, got %v", err)
	}
}

func TestEventsAppendedOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	env.agents(t, "a", "b")
	env.forward(t, "r1", "a", "b", 1, false)
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{EntityKind: "hop"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != "forward.recorded" || evts[0].ActorID != "tester" {
		t.Fatalf("unexpected hop events %+v", evts)
	}
	all, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{})
	if err != nil {
		t.Fatal(err)
	}
	// two registrations, one credit, one forward
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
}
