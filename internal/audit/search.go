package audit

import (
	"strings"

	"github.com/sackio/unibrowse/internal/wire"
)

const DefaultSearchLimit = 50

type SearchOptions struct {
	Types     []string  `json:"types,omitempty"`
	StartTime TimeBound `json:"startTime"`
	EndTime   TimeBound `json:"endTime"`
	Limit     int       `json:"limit,omitempty"`
}

// Search finds entries whose selector, value, URL, key or element text contain
// text, case-insensitively. Results are newest first.
func (l *Log) Search(text string, opts SearchOptions) (QueryResult, error) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return QueryResult{}, wire.NewError(wire.CodeValidation, "search text is required", nil)
	}

	var f filter
	f.window(opts.StartTime, opts.EndTime, l.NowMs())
	f.types = typeSet(opts.Types)

	l.mu.RLock()
	var matches []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := &l.entries[i]
		if f.match(e) && containsText(e, needle) {
			matches = append(matches, e.clone())
		}
	}
	l.mu.RUnlock()

	return page(matches, 0, l.clampLimit(opts.Limit, DefaultSearchLimit)), nil
}

func containsText(e *Entry, needle string) bool {
	fields := []string{e.URL, e.Value, e.Key}
	if e.Element != nil {
		fields = append(fields, e.Element.Selector, e.Element.Text, e.Element.Value, e.Element.ID)
	}
	for _, s := range fields {
		if s != "" && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
