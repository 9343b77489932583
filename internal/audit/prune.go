package audit

import "github.com/sackio/unibrowse/internal/wire"

// PruneRequest removes entries. Filters narrow the candidate set; count rules
// then pick which candidates go. Without count rules every candidate goes.
// Entries whose type is in ExcludeTypes are never candidates.
type PruneRequest struct {
	Before          TimeBound `json:"before"`
	After           TimeBound `json:"after"`
	Between         *Window   `json:"between,omitempty"`
	KeepLast        *int      `json:"keepLast,omitempty"`
	KeepFirst       *int      `json:"keepFirst,omitempty"`
	RemoveOldest    *int      `json:"removeOldest,omitempty"`
	Types           []string  `json:"types,omitempty"`
	ExcludeTypes    []string  `json:"excludeTypes,omitempty"`
	URLPattern      string    `json:"urlPattern,omitempty"`
	SelectorPattern string    `json:"selectorPattern,omitempty"`
}

type PruneResult struct {
	RemovedCount   int `json:"removedCount"`
	RemainingCount int `json:"remainingCount"`
}

func (r PruneRequest) hasCountRule() bool {
	return r.KeepLast != nil || r.KeepFirst != nil || r.RemoveOldest != nil
}

// Prune applies req. Count rules run in the order removeOldest, keepFirst,
// keepLast, each over the candidates the previous rule left in place.
func (l *Log) Prune(req PruneRequest) (PruneResult, error) {
	for name, v := range map[string]*int{"keepLast": req.KeepLast, "keepFirst": req.KeepFirst, "removeOldest": req.RemoveOldest} {
		if v != nil && *v < 0 {
			return PruneResult{}, wire.NewError(wire.CodeValidation, name+" must not be negative", nil)
		}
	}

	nowMs := l.NowMs()
	var f filter
	if req.Before.IsSet() {
		f.before, f.hasBefore = req.Before.Resolve(nowMs), true
	}
	if req.After.IsSet() {
		f.after, f.hasAfter = req.After.Resolve(nowMs), true
	}
	if req.Between != nil {
		f.window(req.Between.Start, req.Between.End, nowMs)
	}
	f.types = typeSet(req.Types)
	f.exclude = typeSet(req.ExcludeTypes)
	if err := f.patterns(req.URLPattern, req.SelectorPattern); err != nil {
		return PruneResult{}, err
	}
	if !f.any() && !req.hasCountRule() {
		return PruneResult{}, wire.NewError(wire.CodeValidation, "prune needs at least one filter or count rule", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Candidate positions, oldest first.
	var cand []int
	for i := range l.entries {
		if f.match(&l.entries[i]) {
			cand = append(cand, i)
		}
	}

	remove := cand
	if req.hasCountRule() {
		remove = nil
		survivors := cand
		if req.RemoveOldest != nil {
			n := min(*req.RemoveOldest, len(survivors))
			remove = append(remove, survivors[:n]...)
			survivors = survivors[n:]
		}
		if req.KeepFirst != nil && *req.KeepFirst < len(survivors) {
			remove = append(remove, survivors[*req.KeepFirst:]...)
			survivors = survivors[:*req.KeepFirst]
		}
		if req.KeepLast != nil && *req.KeepLast < len(survivors) {
			cut := len(survivors) - *req.KeepLast
			remove = append(remove, survivors[:cut]...)
		}
	}

	drop := make(map[int]bool, len(remove))
	for _, i := range remove {
		drop[i] = true
	}
	removed := l.removeWhereLocked(func(i int, _ *Entry) bool { return drop[i] })
	return PruneResult{RemovedCount: removed, RemainingCount: len(l.entries)}, nil
}

// PruneBefore removes entries older than cutoffMs, returning how many went.
func (l *Log) PruneBefore(cutoffMs int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeWhereLocked(func(_ int, e *Entry) bool { return e.Timestamp < cutoffMs })
}
