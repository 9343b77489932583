package audit

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultCapacity is the entry cap used when Options.Capacity is unset.
const DefaultCapacity = 1000

// Sink receives a copy of every accepted entry.
type Sink interface {
	Write(record any) error
	Close() error
}

type Options struct {
	Capacity int
	Sink     Sink
	Now      func() time.Time
}

// Stats summarises the buffer.
type Stats struct {
	Count     int            `json:"count"`
	Capacity  int            `json:"capacity"`
	Appended  int64          `json:"appended"`
	Evicted   int64          `json:"evicted"`
	Pruned    int64          `json:"pruned"`
	OldestAt  int64          `json:"oldestAt,omitempty"`
	NewestAt  int64          `json:"newestAt,omitempty"`
	ByType    map[string]int `json:"byType"`
	Closed    bool           `json:"closed"`
	SinkDrops int64          `json:"sinkDrops"`
}

// Log is a bounded FIFO of interaction entries. Once Capacity entries are
// held, each append evicts the oldest by arrival order.
type Log struct {
	capacity int
	sink     Sink
	now      func() time.Time

	mu        sync.RWMutex
	entries   []Entry
	seq       int64
	appended  int64
	evicted   int64
	pruned    int64
	sinkDrops int64
	closed    bool
}

func New(opts Options) *Log {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Log{
		capacity: opts.Capacity,
		sink:     opts.Sink,
		now:      opts.Now,
		entries:  make([]Entry, 0, opts.Capacity),
	}
}

// NowMs returns the log's clock in unix milliseconds.
func (l *Log) NowMs() int64 { return l.now().UnixMilli() }

// Append stores e, evicting the oldest entry at capacity. It never fails;
// entries arriving after Close are dropped.
func (l *Log) Append(e Entry) {
	if e.Type == "" {
		return
	}
	if e.Timestamp <= 0 {
		e.Timestamp = l.NowMs()
	}
	e.truncate()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.seq++
	e.Seq = l.seq
	l.appended++
	if len(l.entries) >= l.capacity {
		drop := len(l.entries) - l.capacity + 1
		copy(l.entries, l.entries[drop:])
		l.entries = l.entries[:len(l.entries)-drop]
		l.evicted += int64(drop)
	}
	l.entries = append(l.entries, e)
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Write(e); err != nil {
			l.mu.Lock()
			l.sinkDrops++
			l.mu.Unlock()
		}
	}
}

// Len returns the number of held entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops every entry and returns how many were removed.
func (l *Log) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	l.entries = l.entries[:0]
	l.pruned += int64(n)
	return n
}

func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Stats{
		Count:     len(l.entries),
		Capacity:  l.capacity,
		Appended:  l.appended,
		Evicted:   l.evicted,
		Pruned:    l.pruned,
		ByType:    make(map[string]int),
		Closed:    l.closed,
		SinkDrops: l.sinkDrops,
	}
	for i := range l.entries {
		e := &l.entries[i]
		st.ByType[e.Type]++
		if st.OldestAt == 0 || e.Timestamp < st.OldestAt {
			st.OldestAt = e.Timestamp
		}
		if e.Timestamp > st.NewestAt {
			st.NewestAt = e.Timestamp
		}
	}
	return st
}

// Close stops accepting entries and closes the sink.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sink := l.sink
	l.mu.Unlock()

	if sink == nil {
		return nil
	}
	if err := sink.Close(); err != nil {
		slog.Warn("audit sink close failed", "error", err)
		return err
	}
	return nil
}

// removeWhereLocked deletes entries for which drop returns true, preserving order.
// Caller holds l.mu.
func (l *Log) removeWhereLocked(drop func(i int, e *Entry) bool) int {
	kept := l.entries[:0]
	removed := 0
	for i := range l.entries {
		if drop(i, &l.entries[i]) {
			removed++
			continue
		}
		kept = append(kept, l.entries[i])
	}
	// Zero the tail so dropped elements do not pin memory.
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = Entry{}
	}
	l.entries = kept
	l.pruned += int64(removed)
	return removed
}
