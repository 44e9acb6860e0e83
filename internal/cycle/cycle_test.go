package cycle

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hopline/internal/domain"
)

func chain(agents ...string) []domain.ForwardHop {
	var hops []domain.ForwardHop
	for i := 0; i+1 < len(agents); i++ {
		hops = append(hops, domain.ForwardHop{
			RootTx:    "root",
			FromAgent: agents[i],
			ToAgent:   agents[i+1],
			HopNumber: i + 1,
		})
	}
	return hops
}

func TestDetectEmptyAndAcyclic(t *testing.T) {
	if res := Detect(nil, 10); res.HasCycle || res.CycleDepth != 0 {
		t.Fatalf("empty chain: %+v", res)
	}
	if res := Detect(chain("a", "b", "c", "d"), 10); res.HasCycle {
		t.Fatalf("expected no cycle, got %+v", res)
	}
}

func TestDetectClosedLoop(t *testing.T) {
	res := Detect(chain("a", "b", "c", "a"), 10)
	if !res.HasCycle {
		t.Fatalf("expected cycle")
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, res.CyclePath); diff != "" {
		t.Fatalf("cycle path mismatch (-want +got):\n%s", diff)
	}
	if res.CycleDepth != 3 {
		t.Fatalf("expected depth 3, got %d", res.CycleDepth)
	}
}

func TestDetectLoopAfterTail(t *testing.T) {
	// x forwards into a loop b -> c -> d -> b.
	res := Detect(chain("x", "b", "c", "d", "b"), 10)
	if !res.HasCycle {
		t.Fatalf("expected cycle")
	}
	if diff := cmp.Diff([]string{"b", "c", "d"}, res.CyclePath); diff != "" {
		t.Fatalf("cycle path mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectUnorderedInput(t *testing.T) {
	hops := chain("a", "b", "a")
	hops[0], hops[1] = hops[1], hops[0]
	res := Detect(hops, 10)
	if !res.HasCycle || res.CycleDepth != 2 {
		t.Fatalf("expected 2-hop cycle, got %+v", res)
	}
}

func TestDetectBoundedDepth(t *testing.T) {
	agents := make([]string, 0, 12)
	for i := 0; i < 11; i++ {
		agents = append(agents, fmt.Sprintf("a%d", i))
	}
	agents = append(agents, "a0")
	// 11 hops: the loop closes one hop past the bound.
	if res := Detect(chain(agents...), 10); res.HasCycle {
		t.Fatalf("expected bound to stop traversal, got %+v", res)
	}
	// The same loop at the bound is found.
	ten := append(append([]string(nil), agents[:10]...), "a0")
	if res := Detect(chain(ten...), 10); !res.HasCycle || res.CycleDepth != 10 {
		t.Fatalf("expected 10-hop cycle, got %+v", res)
	}
}

func TestVerifyPolicy(t *testing.T) {
	abc := chain("a", "b", "c")
	cases := []struct {
		name       string
		hops       []domain.ForwardHop
		source     string
		target     string
		safe       bool
		reason     string
		implicated []string
	}{
		{"self", abc, "c", "c", false, domain.ReasonSelfForward, []string{"c"}},
		{"closes loop", abc, "c", "a", false, domain.ReasonWouldCreateCycle, []string{"a", "b", "c"}},
		{"closes inner loop", abc, "c", "b", false, domain.ReasonWouldCreateCycle, []string{"b", "c"}},
		{"fresh target", abc, "c", "d", true, domain.ReasonSafe, nil},
		{"existing cycle", chain("a", "b", "a"), "b", "z", false, domain.ReasonExistingCycle, []string{"a", "b"}},
		{"fan out", abc, "b", "z", false, domain.ReasonDuplicateHop, []string{"b"}},
		{"empty chain", nil, "a", "b", true, domain.ReasonSafe, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Verify(tc.hops, tc.source, tc.target, 10)
			if got.Safe != tc.safe || got.Reason != tc.reason {
				t.Fatalf("verdict = %+v, want safe=%v reason=%s", got, tc.safe, tc.reason)
			}
			if diff := cmp.Diff(tc.implicated, got.ImplicatedAgents); diff != "" {
				t.Fatalf("implicated mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelfForwardWinsOverExistingCycle(t *testing.T) {
	got := Verify(chain("a", "b", "a"), "a", "a", 10)
	if got.Reason != domain.ReasonSelfForward {
		t.Fatalf("expected self_forward first, got %s", got.Reason)
	}
}
