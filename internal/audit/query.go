package audit

import (
	"strings"

	"github.com/sackio/unibrowse/internal/wire"
)

const DefaultQueryLimit = 100

// Query selects entries. Every supplied criterion must match. Time bounds are
// inclusive at both ends.
type Query struct {
	StartTime       TimeBound `json:"startTime"`
	EndTime         TimeBound `json:"endTime"`
	Types           []string  `json:"types,omitempty"`
	URLPattern      string    `json:"urlPattern,omitempty"`
	SelectorPattern string    `json:"selectorPattern,omitempty"`
	SortOrder       string    `json:"sortOrder,omitempty"` // "desc" (default) or "asc"
	Limit           int       `json:"limit,omitempty"`
	Offset          int       `json:"offset,omitempty"`
}

// QueryResult is one page of matches. Total counts all matches before paging.
type QueryResult struct {
	Entries  []Entry `json:"entries"`
	Total    int     `json:"total"`
	Returned int     `json:"returned"`
	Offset   int     `json:"offset"`
}

// Query returns a filtered, sorted page of entries. Recency follows arrival
// order, so "desc" lists the most recently appended first.
func (l *Log) Query(q Query) (QueryResult, error) {
	desc, err := sortDescending(q.SortOrder)
	if err != nil {
		return QueryResult{}, err
	}
	if q.Offset < 0 {
		return QueryResult{}, wire.NewError(wire.CodeValidation, "offset must not be negative", nil)
	}
	limit := l.clampLimit(q.Limit, DefaultQueryLimit)

	var f filter
	f.window(q.StartTime, q.EndTime, l.NowMs())
	f.types = typeSet(q.Types)
	if err := f.patterns(q.URLPattern, q.SelectorPattern); err != nil {
		return QueryResult{}, err
	}

	l.mu.RLock()
	matches := l.collectLocked(&f, desc)
	l.mu.RUnlock()

	return page(matches, q.Offset, limit), nil
}

// collectLocked returns copies of matching entries in the requested order.
func (l *Log) collectLocked(f *filter, desc bool) []Entry {
	var out []Entry
	n := len(l.entries)
	for k := 0; k < n; k++ {
		i := k
		if desc {
			i = n - 1 - k
		}
		if f.match(&l.entries[i]) {
			out = append(out, l.entries[i].clone())
		}
	}
	return out
}

func page(matches []Entry, offset, limit int) QueryResult {
	res := QueryResult{Total: len(matches), Offset: offset, Entries: []Entry{}}
	if offset >= len(matches) {
		return res
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}
	res.Entries = matches[offset:end]
	res.Returned = len(res.Entries)
	return res
}

func sortDescending(order string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "desc", "newest":
		return true, nil
	case "asc", "oldest":
		return false, nil
	}
	return false, wire.NewError(wire.CodeValidation, "sortOrder must be asc or desc", nil)
}

// clampLimit caps a page at the log capacity, which bounds any result.
func (l *Log) clampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	return min(limit, l.capacity)
}
