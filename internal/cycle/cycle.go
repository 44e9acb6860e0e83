// Package cycle walks the forwarding hops of one root transaction and
// decides whether a further forward is safe.
package cycle

import (
	"sort"

	"hopline/internal/domain"
)

// Result is the outcome of a detection walk.
type Result struct {
	HasCycle   bool     `json:"has_cycle"`
	CyclePath  []string `json:"cycle_path,omitempty"`
	CycleDepth int      `json:"cycle_depth"`
}

// Detect follows the chain from hop 1 along from_agent == previous to_agent
// and reports the first closed loop. The walk never visits more than
// maxDepth hops; a chain longer than that is reported as acyclic.
//
// CyclePath starts at the re-entered agent and lists every agent of the
// loop once, in forwarding order. CycleDepth is the number of hops in the
// loop, which equals len(CyclePath).
func Detect(hops []domain.ForwardHop, maxDepth int) Result {
	if len(hops) == 0 {
		return Result{}
	}
	if maxDepth <= 0 || maxDepth > domain.MaxChainDepth {
		maxDepth = domain.MaxChainDepth
	}
	ordered := sortedByHop(hops)
	outgoing := make(map[string]domain.ForwardHop, len(ordered))
	for _, h := range ordered {
		if _, ok := outgoing[h.FromAgent]; !ok {
			outgoing[h.FromAgent] = h
		}
	}

	first := ordered[0]
	path := []string{first.FromAgent}
	seen := map[string]int{first.FromAgent: 0}
	cur := first
	for depth := 1; ; depth++ {
		if depth > maxDepth {
			return Result{}
		}
		if idx, ok := seen[cur.ToAgent]; ok {
			loop := append([]string(nil), path[idx:]...)
			return Result{HasCycle: true, CyclePath: loop, CycleDepth: len(loop)}
		}
		seen[cur.ToAgent] = len(path)
		path = append(path, cur.ToAgent)
		next, ok := outgoing[cur.ToAgent]
		if !ok {
			return Result{}
		}
		cur = next
	}
}

// Path returns the forwarding path from hop 1 as far as it can be followed,
// stopping on the first revisited agent.
func Path(hops []domain.ForwardHop) []string {
	if len(hops) == 0 {
		return nil
	}
	ordered := sortedByHop(hops)
	outgoing := make(map[string]domain.ForwardHop, len(ordered))
	for _, h := range ordered {
		if _, ok := outgoing[h.FromAgent]; !ok {
			outgoing[h.FromAgent] = h
		}
	}
	path := []string{ordered[0].FromAgent}
	seen := map[string]bool{ordered[0].FromAgent: true}
	cur := ordered[0]
	for i := 0; i < domain.MaxChainDepth; i++ {
		if seen[cur.ToAgent] {
			break
		}
		seen[cur.ToAgent] = true
		path = append(path, cur.ToAgent)
		next, ok := outgoing[cur.ToAgent]
		if !ok {
			break
		}
		cur = next
	}
	return path
}

func sortedByHop(hops []domain.ForwardHop) []domain.ForwardHop {
	out := append([]domain.ForwardHop(nil), hops...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].HopNumber < out[j].HopNumber })
	return out
}
