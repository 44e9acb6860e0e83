package cycle

import "hopline/internal/domain"

// Verify applies the forward safety policy to the current hops of a root
// transaction. The first matching rule decides the verdict.
func Verify(hops []domain.ForwardHop, source, target string, maxDepth int) domain.SafetyResult {
	if source == target {
		return domain.SafetyResult{Reason: domain.ReasonSelfForward, ImplicatedAgents: []string{source}}
	}
	if res := Detect(hops, maxDepth); res.HasCycle {
		return domain.SafetyResult{Reason: domain.ReasonExistingCycle, ImplicatedAgents: res.CyclePath}
	}
	upstream := false
	sourceForwarded := false
	for _, h := range hops {
		if h.FromAgent == target {
			upstream = true
		}
		if h.FromAgent == source {
			sourceForwarded = true
		}
	}
	if upstream {
		return domain.SafetyResult{Reason: domain.ReasonWouldCreateCycle, ImplicatedAgents: loopThrough(hops, source, target)}
	}
	if sourceForwarded {
		return domain.SafetyResult{Reason: domain.ReasonDuplicateHop, ImplicatedAgents: []string{source}}
	}
	return domain.SafetyResult{Safe: true, Reason: domain.ReasonSafe}
}

// loopThrough lists the agents a target->...->source loop would close over.
func loopThrough(hops []domain.ForwardHop, source, target string) []string {
	path := Path(hops)
	start := -1
	for i, a := range path {
		if a == target {
			start = i
			break
		}
	}
	if start < 0 {
		return []string{target, source}
	}
	loop := append([]string(nil), path[start:]...)
	if loop[len(loop)-1] != source {
		loop = append(loop, source)
	}
	return loop
}
