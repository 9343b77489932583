package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeBound is an optional query bound. Values above zero are absolute unix
// milliseconds; zero and negative values are offsets from now, so -60000 is
// one minute ago and 0 is now.
type TimeBound struct {
	set bool
	ms  int64
}

// At returns an absolute or relative bound from raw milliseconds.
func At(ms int64) TimeBound { return TimeBound{set: true, ms: ms} }

// Ago returns a bound d before now.
func Ago(d time.Duration) TimeBound { return TimeBound{set: true, ms: -d.Milliseconds()} }

// IsSet reports whether the bound was supplied.
func (b TimeBound) IsSet() bool { return b.set }

// Resolve returns the absolute millisecond value against nowMs.
func (b TimeBound) Resolve(nowMs int64) int64 {
	if b.ms > 0 {
		return b.ms
	}
	return nowMs + b.ms
}

// ParseTimeBound accepts "1700000000000", "-60000" and Go durations such as
// "-5m". A bare positive duration is read as an offset into the past.
func ParseTimeBound(s string) (TimeBound, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeBound{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return At(ms), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return At(int64(f)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return TimeBound{}, fmt.Errorf("time bound %q: want milliseconds or a duration", s)
	}
	if d > 0 {
		d = -d
	}
	return TimeBound{set: true, ms: d.Milliseconds()}, nil
}

func (b *TimeBound) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = TimeBound{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTimeBound(s)
		if err != nil {
			return err
		}
		*b = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("time bound: %w", err)
	}
	*b = At(int64(f))
	return nil
}

func (b TimeBound) MarshalJSON() ([]byte, error) {
	if !b.set {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, b.ms, 10), nil
}

// Window is an inclusive [Start, End] range. It decodes from either a
// two-element array or an object.
type Window struct {
	Start TimeBound `json:"start"`
	End   TimeBound `json:"end"`
}

func (w *Window) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []TimeBound
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("between: want [start, end], got %d values", len(pair))
		}
		w.Start, w.End = pair[0], pair[1]
		return nil
	}
	type plain Window
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*w = Window(p)
	return nil
}
