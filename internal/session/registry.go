package session

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sackio/unibrowse/internal/wire"
)

// TargetInfo is what the host knows about a tab.
type TargetInfo struct {
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Host performs debugger-level work for the registry.
type Host interface {
	Attach(ctx context.Context, targetID string) (TargetInfo, error)
	Detach(ctx context.Context, targetID string) error
	Open(ctx context.Context, uri string) (string, error)
}

// Target is one tracked tab.
type Target struct {
	TargetID   string    `json:"targetId"`
	Label      string    `json:"label,omitempty"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	AttachedAt time.Time `json:"attachedAt"`
	Active     bool      `json:"active"`
}

// Selector addresses a target. Empty TargetID and Label mean "the active one".
type Selector struct {
	TargetID    string `json:"targetId,omitempty"`
	Label       string `json:"label,omitempty"`
	AutoOpenURI string `json:"autoOpenUri,omitempty"`
}

// Describe renders the selector for error context.
func (s Selector) Describe() string {
	switch {
	case s.TargetID != "":
		return s.TargetID
	case s.Label != "":
		return s.Label
	}
	return ""
}

// Registry tracks attached targets, their labels and the active target.
//
// mu guards state and is never held across host calls; opMu serialises the
// operations that do call the host.
type Registry struct {
	host Host
	now  func() time.Time

	opMu sync.Mutex

	mu        sync.Mutex
	targets   map[string]*Target
	active    string
	explicit  bool // set when the active target went away
	lastStamp time.Time
}

func NewRegistry(host Host) *Registry {
	return &Registry{host: host, now: time.Now, targets: make(map[string]*Target)}
}

// SetClock swaps the time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// EnsureAttached resolves sel to a tracked target, attaching or opening one
// when allowed, and marks it active.
func (r *Registry) EnsureAttached(ctx context.Context, sel Selector) (Target, error) {
	sel.Label = strings.TrimSpace(sel.Label)

	r.mu.Lock()
	if t, ok := r.lookupLocked(sel); ok {
		out := r.touchLocked(t)
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	r.opMu.Lock()
	defer r.opMu.Unlock()

	// Re-check: another call may have attached it while we waited.
	r.mu.Lock()
	if t, ok := r.lookupLocked(sel); ok {
		out := r.touchLocked(t)
		r.mu.Unlock()
		return out, nil
	}
	tracked := len(r.targets)
	explicit := r.explicit
	r.mu.Unlock()

	switch {
	case sel.TargetID != "":
		info, err := r.host.Attach(ctx, sel.TargetID)
		if err != nil {
			return Target{}, &wire.CodedError{Code: wire.CodeTargetNotFound, Message: "attach failed", Target: sel.TargetID, Cause: err}
		}
		return r.insert(info, sel.Label)
	case sel.Label != "":
		if sel.AutoOpenURI == "" {
			return Target{}, &wire.CodedError{Code: wire.CodeTargetNotFound, Message: "no attached target labelled " + sel.Label, Target: sel.Label}
		}
		return r.open(ctx, sel.AutoOpenURI, sel.Label)
	case tracked == 0 && sel.AutoOpenURI != "":
		return r.open(ctx, sel.AutoOpenURI, "")
	case explicit && tracked > 0:
		return Target{}, wire.NewError(wire.CodeNoActiveTarget, "active target was closed; address a target by id or label", nil)
	}
	return Target{}, wire.NewError(wire.CodeNoActiveTarget, "no attached target", nil)
}

// Register tracks a target the host has already attached.
func (r *Registry) Register(info TargetInfo, label string) (Target, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.insert(info, strings.TrimSpace(label))
}

// ListAttached returns every tracked target, most recently used first.
func (r *Registry) ListAttached() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, r.snapshotLocked(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out
}

// Get returns the tracked target without touching it.
func (r *Registry) Get(targetID string) (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return Target{}, false
	}
	return r.snapshotLocked(t), true
}

// Detach stops tracking targetID and releases its debugger session. Detaching
// an untracked target is a no-op.
func (r *Registry) Detach(ctx context.Context, targetID string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if !r.remove(targetID, "detached") {
		return nil
	}
	if err := r.host.Detach(ctx, targetID); err != nil {
		slog.Debug("session detach failed", "target_id", targetID, "error", err)
	}
	return nil
}

// DetachAll releases every tracked target.
func (r *Registry) DetachAll(ctx context.Context) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	r.targets = make(map[string]*Target)
	r.active = ""
	r.explicit = false
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.host.Detach(ctx, id); err != nil {
			slog.Debug("session detach failed", "target_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		slog.Info("session released targets", "count", len(ids))
	}
}

// SetLabel renames the target addressed by id or current label.
func (r *Registry) SetLabel(targetOrLabel, label string) (Target, error) {
	label = strings.TrimSpace(label)
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[targetOrLabel]
	if !ok {
		t, ok = r.byLabelLocked(targetOrLabel)
	}
	if !ok {
		return Target{}, &wire.CodedError{Code: wire.CodeTargetNotFound, Message: "no attached target " + targetOrLabel, Target: targetOrLabel}
	}
	if label != "" {
		if other, taken := r.byLabelLocked(label); taken && other.TargetID != t.TargetID {
			return Target{}, &wire.CodedError{Code: wire.CodeDuplicateLabel, Message: "label " + label + " is used by " + other.TargetID, Target: t.TargetID}
		}
	}
	t.Label = label
	return r.snapshotLocked(t), nil
}

// TargetClosed handles the host's tab-removal signal. It reports whether the
// target was tracked.
func (r *Registry) TargetClosed(targetID string) bool {
	return r.remove(targetID, "closed")
}

// UpdateInfo refreshes url and title after a navigation.
func (r *Registry) UpdateInfo(targetID, url, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return
	}
	if url != "" {
		t.URL = url
	}
	if title != "" {
		t.Title = title
	}
}

// Len returns the number of tracked targets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

func (r *Registry) open(ctx context.Context, uri, label string) (Target, error) {
	if label != "" {
		r.mu.Lock()
		_, taken := r.byLabelLocked(label)
		r.mu.Unlock()
		if taken {
			return Target{}, &wire.CodedError{Code: wire.CodeDuplicateLabel, Message: "label " + label + " already in use", Target: label}
		}
	}
	targetID, err := r.host.Open(ctx, uri)
	if err != nil {
		return Target{}, &wire.CodedError{Code: wire.CodeTargetNotFound, Message: "open " + uri + " failed", Target: label, Cause: err}
	}
	info, err := r.host.Attach(ctx, targetID)
	if err != nil {
		return Target{}, &wire.CodedError{Code: wire.CodeTargetNotFound, Message: "attach failed", Target: targetID, Cause: err}
	}
	if info.URL == "" {
		info.URL = uri
	}
	slog.Info("session opened target", "target_id", targetID, "uri", uri, "label", label)
	return r.insert(info, label)
}

// insert starts tracking info as the active target. Caller holds opMu.
func (r *Registry) insert(info TargetInfo, label string) (Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if label != "" {
		if other, taken := r.byLabelLocked(label); taken && other.TargetID != info.TargetID {
			return Target{}, &wire.CodedError{Code: wire.CodeDuplicateLabel, Message: "label " + label + " is used by " + other.TargetID, Target: info.TargetID}
		}
	}
	t, ok := r.targets[info.TargetID]
	if !ok {
		t = &Target{TargetID: info.TargetID, AttachedAt: r.now()}
		r.targets[info.TargetID] = t
		slog.Debug("session target attached", "target_id", info.TargetID, "label", label)
	}
	t.URL = info.URL
	t.Title = info.Title
	if label != "" {
		t.Label = label
	}
	return r.touchLocked(t), nil
}

func (r *Registry) remove(targetID, why string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[targetID]; !ok {
		return false
	}
	delete(r.targets, targetID)
	if r.active == targetID {
		r.active = ""
		r.explicit = true
	}
	slog.Info("session target removed", "target_id", targetID, "reason", why)
	return true
}

func (r *Registry) lookupLocked(sel Selector) (*Target, bool) {
	switch {
	case sel.TargetID != "":
		t, ok := r.targets[sel.TargetID]
		return t, ok
	case sel.Label != "":
		return r.byLabelLocked(sel.Label)
	case r.active != "":
		t, ok := r.targets[r.active]
		return t, ok
	}
	return nil, false
}

func (r *Registry) byLabelLocked(label string) (*Target, bool) {
	if label == "" {
		return nil, false
	}
	for _, t := range r.targets {
		if t.Label == label {
			return t, true
		}
	}
	return nil, false
}

// touchLocked stamps t with a strictly increasing time and makes it active.
func (r *Registry) touchLocked(t *Target) Target {
	stamp := r.now()
	if !stamp.After(r.lastStamp) {
		stamp = r.lastStamp.Add(time.Nanosecond)
	}
	r.lastStamp = stamp
	t.LastUsedAt = stamp
	r.active = t.TargetID
	r.explicit = false
	return r.snapshotLocked(t)
}

func (r *Registry) snapshotLocked(t *Target) Target {
	out := *t
	out.Active = t.TargetID == r.active
	return out
}
