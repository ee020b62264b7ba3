package match

// RestartVote counts yes-votes against the set of players present when the
// window opened. Abstentions count as no; players joining mid-vote cannot
// vote.
type RestartVote struct {
	eligible map[string]bool
	yes      map[string]bool
}

func newRestartVote(eligible map[string]bool) *RestartVote {
	return &RestartVote{
		eligible: eligible,
		yes:      make(map[string]bool),
	}
}

func (v *RestartVote) clone() *RestartVote {
	cp := &RestartVote{
		eligible: make(map[string]bool, len(v.eligible)),
		yes:      make(map[string]bool, len(v.yes)),
	}
	for k := range v.eligible {
		cp.eligible[k] = true
	}
	for k := range v.yes {
		cp.yes[k] = true
	}
	return cp
}

// cast records a yes-vote. Voting twice is idempotent.
func (v *RestartVote) cast(login string) bool {
	if !v.eligible[login] {
		return false
	}
	v.yes[login] = true
	return true
}

// Yes returns the current number of yes-votes.
func (v *RestartVote) Yes() int {
	return len(v.yes)
}

// Eligible returns the number of players the vote is counted against.
func (v *RestartVote) Eligible() int {
	return len(v.eligible)
}

// passed evaluates the escalating threshold: a simple majority for the
// first restart, three quarters for the second, unanimity after that.
func (v *RestartVote) passed(consecutiveRestarts int) bool {
	n := len(v.eligible)
	if n == 0 {
		return false
	}
	yes := len(v.yes)
	switch {
	case consecutiveRestarts == 0:
		return yes*2 > n
	case consecutiveRestarts == 1:
		return yes*4 >= n*3
	default:
		return yes == n
	}
}
