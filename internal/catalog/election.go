package catalog

import "sort"

// electCandidate implements the promotion tie-break: among nodes eligible
// for promotion (candidate_priority > 0, has reported since the election
// started), pick highest reported_lsn, then highest candidate_priority,
// then lowest node_id. Returns nil if there is no eligible candidate at
// all, in which case get_primary keeps erroring until one shows up.
func electCandidate(eligible []*Node) *Node {
	if len(eligible) == 0 {
		return nil
	}
	sorted := make([]*Node, len(eligible))
	copy(sorted, eligible)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ReportedLSN != b.ReportedLSN {
			return a.ReportedLSN > b.ReportedLSN
		}
		if a.CandidatePriority != b.CandidatePriority {
			return a.CandidatePriority > b.CandidatePriority
		}
		return a.NodeID < b.NodeID
	})
	return sorted[0]
}

// isStrictlyAhead reports whether winner's LSN is strictly greater than
// every other node in others (the caller passes every report_lsn node,
// including those with candidate_priority 0) — if not, the others still need to
// fast_forward to align with the winner, even though the winner was
// already chosen.
func isStrictlyAhead(winner *Node, others []*Node) bool {
	for _, o := range others {
		if o.NodeID == winner.NodeID {
			continue
		}
		if o.ReportedLSN >= winner.ReportedLSN {
			return false
		}
	}
	return true
}
