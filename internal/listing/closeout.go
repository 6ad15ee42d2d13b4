package listing

import "sort"

// ClosedSet returns the ids that were open in the previous checkpoint but
// were not observed by the current traversal.
func ClosedSet(prevOpen, observed IDSet) IDSet {
	closed := make(IDSet)
	for id := range prevOpen {
		if !observed.Has(id) {
			closed.Add(id)
		}
	}
	return closed
}

// ClosePolicy decides when an absent listing is considered closed.
// AfterAbsences of 0 disables closing; N closes a listing once it has been
// missing from N consecutive completed traversals.
type ClosePolicy struct {
	AfterAbsences int
}

// Enabled reports whether the policy ever closes anything
func (p ClosePolicy) Enabled() bool {
	return p.AfterAbsences > 0
}

// Decide computes the ids to close and the next absence streaks.
// It does not modify its arguments.
func (p ClosePolicy) Decide(prevOpen, observed IDSet, streaks map[string]int) ([]string, map[string]int) {
	next := make(map[string]int)
	if !p.Enabled() {
		return nil, next
	}

	var closed []string
	for id := range ClosedSet(prevOpen, observed) {
		n := streaks[id] + 1
		if n >= p.AfterAbsences {
			closed = append(closed, id)
			continue
		}
		next[id] = n
	}
	sort.Strings(closed)
	return closed, next
}
