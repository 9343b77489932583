package audit

import (
	"regexp"

	"github.com/sackio/unibrowse/internal/wire"
)

// filter is the compiled, ANDed form of the criteria shared by query, prune
// and search.
type filter struct {
	from, to       int64
	hasFrom, hasTo bool
	before, after  int64
	hasBefore      bool
	hasAfter       bool
	types          map[string]bool
	exclude        map[string]bool
	urlRe          *regexp.Regexp
	selectorRe     *regexp.Regexp
}

func (f *filter) any() bool {
	return f.hasFrom || f.hasTo || f.hasBefore || f.hasAfter || len(f.types) > 0 || len(f.exclude) > 0 || f.urlRe != nil || f.selectorRe != nil
}

func (f *filter) window(start, end TimeBound, nowMs int64) {
	if start.IsSet() {
		f.from, f.hasFrom = start.Resolve(nowMs), true
	}
	if end.IsSet() {
		f.to, f.hasTo = end.Resolve(nowMs), true
	}
}

func (f *filter) patterns(urlPattern, selectorPattern string) error {
	var err error
	if urlPattern != "" {
		if f.urlRe, err = regexp.Compile(urlPattern); err != nil {
			return wire.NewError(wire.CodeValidation, "invalid urlPattern", err)
		}
	}
	if selectorPattern != "" {
		if f.selectorRe, err = regexp.Compile(selectorPattern); err != nil {
			return wire.NewError(wire.CodeValidation, "invalid selectorPattern", err)
		}
	}
	return nil
}

func (f *filter) match(e *Entry) bool {
	if f.hasFrom && e.Timestamp < f.from {
		return false
	}
	if f.hasTo && e.Timestamp > f.to {
		return false
	}
	if f.hasBefore && e.Timestamp >= f.before {
		return false
	}
	if f.hasAfter && e.Timestamp <= f.after {
		return false
	}
	if len(f.types) > 0 && !f.types[e.Type] {
		return false
	}
	if f.exclude[e.Type] {
		return false
	}
	if f.urlRe != nil && !f.urlRe.MatchString(e.URL) {
		return false
	}
	if f.selectorRe != nil && !f.selectorRe.MatchString(e.selector()) {
		return false
	}
	return true
}

func typeSet(types []string) map[string]bool {
	if len(types) == 0 {
		return nil
	}
	out := make(map[string]bool, len(types))
	for _, t := range types {
		if t != "" {
			out[t] = true
		}
	}
	return out
}
