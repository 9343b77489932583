package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sackio/unibrowse/internal/wire"
)

const baseMs = int64(1_700_000_000_000)

// newClockLog returns a log whose clock reads *now.
func newClockLog(capacity int, now *int64) *Log {
	return New(Options{Capacity: capacity, Now: func() time.Time { return time.UnixMilli(*now) }})
}

func intp(v int) *int { return &v }

func TestAppendRetainsMostRecent(t *testing.T) {
	now := baseMs
	l := newClockLog(5, &now)
	for i := 0; i < 12; i++ {
		l.Append(Entry{Type: TypeClick, Timestamp: baseMs + int64(i), Value: fmt.Sprint(i)})
	}
	if l.Len() != 5 {
		t.Fatalf("Len() = %d; want 5", l.Len())
	}
	res, err := l.Query(Query{SortOrder: "asc"})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	for i, e := range res.Entries {
		if want := fmt.Sprint(7 + i); e.Value != want {
			t.Fatalf("entry %d value = %q; want %q", i, e.Value, want)
		}
	}
	st := l.Stats()
	if st.Appended != 12 || st.Evicted != 7 || st.Count != 5 || st.Capacity != 5 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestAppendDefaultsAndClose(t *testing.T) {
	now := baseMs
	l := newClockLog(0, &now)
	l.Append(Entry{Type: TypeInput, Value: strings.Repeat("x", 500), Element: &Element{Tag: "input", Text: strings.Repeat("é", 300)}})
	l.Append(Entry{}) // no type: ignored

	res, _ := l.Query(Query{})
	if res.Total != 1 {
		t.Fatalf("Total = %d; want 1", res.Total)
	}
	e := res.Entries[0]
	if e.Timestamp != baseMs {
		t.Fatalf("Timestamp = %d; want clock value %d", e.Timestamp, baseMs)
	}
	if len(e.Value) != maxFieldLen || len(e.Element.Text) > maxFieldLen {
		t.Fatalf("captured fields not truncated: value %d text %d", len(e.Value), len(e.Element.Text))
	}
	e.Element.Tag = "mutated"
	again, _ := l.Query(Query{})
	if again.Entries[0].Element.Tag != "input" {
		t.Fatal("query result shares element with stored entry")
	}
	if l.Stats().Capacity != DefaultCapacity {
		t.Fatalf("Capacity = %d; want default", l.Stats().Capacity)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	l.Append(Entry{Type: TypeClick})
	if l.Len() != 1 {
		t.Fatalf("Len() after Close = %d; want append dropped", l.Len())
	}
}

func TestQueryLastMinuteInclusive(t *testing.T) {
	now := baseMs + 120_000
	l := newClockLog(100, &now)
	stamps := []int64{
		now - 60_001, // just outside
		now - 60_000, // start boundary
		now - 30_000,
		now,       // end boundary
		now + 1,   // future, outside
	}
	for _, ts := range stamps {
		l.Append(Entry{Type: TypeClick, Timestamp: ts})
	}

	res, err := l.Query(Query{StartTime: At(-60_000), EndTime: At(0), SortOrder: "asc"})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("Total = %d; want 3 (%+v)", res.Total, res.Entries)
	}
	if res.Entries[0].Timestamp != now-60_000 || res.Entries[2].Timestamp != now {
		t.Fatalf("boundaries = %d..%d; want %d..%d", res.Entries[0].Timestamp, res.Entries[2].Timestamp, now-60_000, now)
	}

	abs, err := l.Query(Query{StartTime: At(now - 30_000), EndTime: At(now - 30_000)})
	if err != nil || abs.Total != 1 {
		t.Fatalf("absolute point query = %+v, %v; want 1 entry", abs, err)
	}
}

func TestQueryFiltersAndPaging(t *testing.T) {
	now := baseMs
	l := newClockLog(100, &now)
	for i := 0; i < 6; i++ {
		typ := TypeClick
		if i%2 == 1 {
			typ = TypeKeydown
		}
		l.Append(Entry{
			Type:      typ,
			Timestamp: baseMs + int64(i),
			URL:       fmt.Sprintf("https://shop.test/page/%d", i),
			Element:   &Element{Selector: fmt.Sprintf("#btn-%d", i)},
		})
	}

	res, err := l.Query(Query{Types: []string{TypeClick}, Limit: 2})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if res.Total != 3 || res.Returned != 2 || res.Entries[0].Timestamp != baseMs+4 {
		t.Fatalf("Query(types) = %+v", res)
	}

	res, _ = l.Query(Query{Types: []string{TypeClick}, Limit: 2, Offset: 2})
	if res.Returned != 1 || res.Entries[0].Timestamp != baseMs {
		t.Fatalf("Query(offset) = %+v", res)
	}

	res, _ = l.Query(Query{URLPattern: `/page/[12]$`, SelectorPattern: `^#btn-2$`})
	if res.Total != 1 || res.Entries[0].URL != "https://shop.test/page/2" {
		t.Fatalf("Query(patterns) = %+v", res)
	}

	res, _ = l.Query(Query{Offset: 50})
	if res.Returned != 0 || res.Total != 6 || res.Entries == nil {
		t.Fatalf("Query(past end) = %+v", res)
	}

	if _, err := l.Query(Query{URLPattern: "("}); !wire.IsCode(err, wire.CodeValidation) {
		t.Fatalf("Query(bad regexp) = %v; want VALIDATION", err)
	}
	if _, err := l.Query(Query{SortOrder: "sideways"}); !wire.IsCode(err, wire.CodeValidation) {
		t.Fatalf("Query(bad sort) = %v; want VALIDATION", err)
	}
}

func TestPruneKeepLast(t *testing.T) {
	now := baseMs
	l := newClockLog(100, &now)
	const m, k = 10, 4
	for i := 0; i < m; i++ {
		l.Append(Entry{Type: TypeClick, Timestamp: baseMs + int64(i)})
	}

	res, err := l.Prune(PruneRequest{KeepLast: intp(k)})
	if err != nil {
		t.Fatalf("Prune() = %v", err)
	}
	if res.RemovedCount != m-k || res.RemainingCount != k {
		t.Fatalf("Prune() = %+v; want removed %d remaining %d", res, m-k, k)
	}
	left, _ := l.Query(Query{SortOrder: "asc"})
	for i, e := range left.Entries {
		if want := baseMs + int64(m-k+i); e.Timestamp != want {
			t.Fatalf("remaining[%d] = %d; want %d", i, e.Timestamp, want)
		}
	}
}

func TestPruneCriteria(t *testing.T) {
	seed := func() (*Log, *int64) {
		now := baseMs + 1_000
		l := newClockLog(100, &now)
		types := []string{TypeClick, TypeNavigation, TypeClick, TypeInput, TypeClick, TypeNavigation}
		for i, typ := range types {
			l.Append(Entry{Type: typ, Timestamp: baseMs + int64(i*100), URL: fmt.Sprintf("https://a.test/%d", i)})
		}
		return l, &now
	}

	tests := []struct {
		name          string
		req           PruneRequest
		wantRemoved   int
		wantRemaining int
	}{
		{name: "before absolute", req: PruneRequest{Before: At(baseMs + 200)}, wantRemoved: 2, wantRemaining: 4},
		{name: "after relative", req: PruneRequest{After: At(-600)}, wantRemoved: 1, wantRemaining: 5},
		{name: "between inclusive", req: PruneRequest{Between: &Window{Start: At(baseMs + 100), End: At(baseMs + 300)}}, wantRemoved: 3, wantRemaining: 3},
		{name: "types", req: PruneRequest{Types: []string{TypeClick}}, wantRemoved: 3, wantRemaining: 3},
		{name: "exclude only", req: PruneRequest{ExcludeTypes: []string{TypeNavigation}}, wantRemoved: 4, wantRemaining: 2},
		{name: "exclude protects", req: PruneRequest{Before: At(baseMs + 1_000), ExcludeTypes: []string{TypeNavigation}}, wantRemoved: 4, wantRemaining: 2},
		{name: "keep first", req: PruneRequest{KeepFirst: intp(2)}, wantRemoved: 4, wantRemaining: 2},
		{name: "remove oldest", req: PruneRequest{RemoveOldest: intp(5)}, wantRemoved: 5, wantRemaining: 1},
		{name: "remove oldest beyond size", req: PruneRequest{RemoveOldest: intp(50)}, wantRemoved: 6, wantRemaining: 0},
		{name: "keep last of type", req: PruneRequest{Types: []string{TypeClick}, KeepLast: intp(1)}, wantRemoved: 2, wantRemaining: 4},
		{name: "url pattern", req: PruneRequest{URLPattern: `/[01]$`}, wantRemoved: 2, wantRemaining: 4},
		{name: "no match", req: PruneRequest{Types: []string{TypeScroll}}, wantRemoved: 0, wantRemaining: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := seed()
			res, err := l.Prune(tt.req)
			if err != nil {
				t.Fatalf("Prune() = %v", err)
			}
			if res.RemovedCount != tt.wantRemoved || res.RemainingCount != tt.wantRemaining {
				t.Fatalf("Prune() = %+v; want removed %d remaining %d", res, tt.wantRemoved, tt.wantRemaining)
			}
		})
	}

	l, _ := seed()
	if _, err := l.Prune(PruneRequest{}); !wire.IsCode(err, wire.CodeValidation) {
		t.Fatalf("Prune(empty) = %v; want VALIDATION", err)
	}
	if _, err := l.Prune(PruneRequest{KeepLast: intp(-1)}); !wire.IsCode(err, wire.CodeValidation) {
		t.Fatalf("Prune(negative) = %v; want VALIDATION", err)
	}
}

func TestQueryLimitFollowsCapacity(t *testing.T) {
	now := baseMs
	l := newClockLog(15_000, &now)
	for i := range 12_000 {
		l.Append(Entry{Type: TypeScroll, Timestamp: baseMs + int64(i)})
	}
	res, err := l.Query(Query{Limit: 20_000})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if res.Returned != 12_000 || res.Total != 12_000 {
		t.Fatalf("Query() returned %d of %d; want the whole buffer", res.Returned, res.Total)
	}

	small := newClockLog(3, &now)
	for i := range 3 {
		small.Append(Entry{Type: TypeClick, Timestamp: baseMs + int64(i)})
	}
	if res, _ := small.Query(Query{Limit: 500}); res.Returned != 3 {
		t.Fatalf("small Query() returned %d; want 3", res.Returned)
	}
}

func TestSearch(t *testing.T) {
	now := baseMs
	l := newClockLog(100, &now)
	l.Append(Entry{Type: TypeClick, Timestamp: baseMs + 1, URL: "https://shop.test/cart", Element: &Element{Selector: "button.checkout", Text: "Proceed to Checkout"}})
	l.Append(Entry{Type: TypeInput, Timestamp: baseMs + 2, URL: "https://shop.test/login", Value: "alice@example.com"})
	l.Append(Entry{Type: TypeKeydown, Timestamp: baseMs + 3, URL: "https://shop.test/login", Key: "Enter"})
	l.Append(Entry{Type: TypeClick, Timestamp: baseMs + 4, URL: "https://shop.test/checkout"})

	res, err := l.Search("CHECKOUT", SearchOptions{})
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if res.Total != 2 || res.Entries[0].Timestamp != baseMs+4 {
		t.Fatalf("Search(checkout) = %+v; want 2 newest first", res)
	}
	if res, _ := l.Search("alice", SearchOptions{Types: []string{TypeClick}}); res.Total != 0 {
		t.Fatalf("Search(type filter) = %+v; want none", res)
	}
	if res, _ := l.Search("enter", SearchOptions{}); res.Total != 1 {
		t.Fatalf("Search(key) = %+v; want 1", res)
	}
	if res, _ := l.Search("shop.test", SearchOptions{Limit: 1}); res.Returned != 1 || res.Total != 4 {
		t.Fatalf("Search(limit) = %+v", res)
	}
	if _, err := l.Search("  ", SearchOptions{}); !wire.IsCode(err, wire.CodeValidation) {
		t.Fatalf("Search(blank) = %v; want VALIDATION", err)
	}
}

func TestTimeBoundDecoding(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{in: `-60000`, want: baseMs - 60_000},
		{in: `0`, want: baseMs},
		{in: `1600000000000`, want: 1_600_000_000_000},
		{in: `"-60000"`, want: baseMs - 60_000},
		{in: `"-5m"`, want: baseMs - 300_000},
		{in: `"90s"`, want: baseMs - 90_000},
	}
	for _, tt := range tests {
		var b TimeBound
		if err := json.Unmarshal([]byte(tt.in), &b); err != nil {
			t.Fatalf("Unmarshal(%s) = %v", tt.in, err)
		}
		if !b.IsSet() || b.Resolve(baseMs) != tt.want {
			t.Fatalf("Unmarshal(%s).Resolve() = %d; want %d", tt.in, b.Resolve(baseMs), tt.want)
		}
	}

	var q Query
	if err := json.Unmarshal([]byte(`{"types":["click"]}`), &q); err != nil {
		t.Fatal(err)
	}
	if q.StartTime.IsSet() || q.EndTime.IsSet() {
		t.Fatal("absent bounds decoded as set")
	}
	var p PruneRequest
	if err := json.Unmarshal([]byte(`{"between":[-60000,0]}`), &p); err != nil {
		t.Fatalf("Unmarshal(between array) = %v", err)
	}
	if p.Between == nil || p.Between.Start.Resolve(baseMs) != baseMs-60_000 || p.Between.End.Resolve(baseMs) != baseMs {
		t.Fatalf("between = %+v", p.Between)
	}
	var b TimeBound
	if err := json.Unmarshal([]byte(`"yesterday"`), &b); err == nil {
		t.Fatal("Unmarshal(yesterday) = nil error; want error")
	}
}

func TestRetentionSweep(t *testing.T) {
	now := baseMs + 10*60_000
	l := newClockLog(100, &now)
	l.Append(Entry{Type: TypeClick, Timestamp: baseMs})
	l.Append(Entry{Type: TypeClick, Timestamp: now - 30_000})

	r, err := StartRetention(l, "@every 1h", 5*time.Minute)
	if err != nil {
		t.Fatalf("StartRetention() = %v", err)
	}
	defer r.Stop()
	if got := r.Sweep(); got != 1 {
		t.Fatalf("Sweep() = %d; want 1", got)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", l.Len())
	}

	if r, err := StartRetention(l, "", 0); r != nil || err != nil {
		t.Fatalf("StartRetention(0) = %v, %v; want disabled", r, err)
	}
	if _, err := StartRetention(l, "not a schedule", time.Minute); err == nil {
		t.Fatal("StartRetention(bad spec) = nil error")
	}
}

func TestJSONLSinkWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "interactions.jsonl")
	sink, err := NewJSONLSink(path, 16, 1)
	if err != nil {
		t.Fatalf("NewJSONLSink() = %v", err)
	}
	l := New(Options{Capacity: 10, Sink: sink})
	l.Append(Entry{Type: TypeClick, Timestamp: baseMs, URL: "https://a.test"})
	l.Append(Entry{Type: TypeNavigation, Timestamp: baseMs + 1, URL: "https://b.test"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d; want 2\n%s", len(lines), data)
	}
	var e Entry
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("line 2: %v", err)
	}
	if e.Type != TypeNavigation || e.Seq != 2 {
		t.Fatalf("line 2 = %+v", e)
	}
	if err := sink.Write(e); err == nil {
		t.Fatal("Write() after Close = nil error")
	}
}
