package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sackio/unibrowse/internal/wire"
)

type fakeHost struct {
	mu       sync.Mutex
	pages    map[string]TargetInfo
	attached []string
	detached []string
	opened   []string
	next     int
}

func newFakeHost(ids ...string) *fakeHost {
	h := &fakeHost{pages: make(map[string]TargetInfo)}
	for _, id := range ids {
		h.pages[id] = TargetInfo{TargetID: id, URL: "https://" + id + ".test/", Title: id}
	}
	return h
}

func (h *fakeHost) Attach(_ context.Context, targetID string) (TargetInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.pages[targetID]
	if !ok {
		return TargetInfo{}, errors.New("no target with given id found")
	}
	h.attached = append(h.attached, targetID)
	return info, nil
}

func (h *fakeHost) Detach(_ context.Context, targetID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = append(h.detached, targetID)
	return nil
}

func (h *fakeHost) Open(_ context.Context, uri string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := fmt.Sprintf("opened-%d", h.next)
	h.pages[id] = TargetInfo{TargetID: id, URL: uri}
	h.opened = append(h.opened, uri)
	return id, nil
}

// fixedClock returns the same instant on every call so ordering relies on
// the registry's tie-breaking.
func fixedClock() func() time.Time {
	at := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return at }
}

func TestEnsureAttachedSingleTargetWithoutCreating(t *testing.T) {
	host := newFakeHost("t1")
	r := NewRegistry(host)
	ctx := context.Background()

	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t1"}); err != nil {
		t.Fatalf("EnsureAttached(t1) = %v", err)
	}
	got, err := r.EnsureAttached(ctx, Selector{AutoOpenURI: "https://new.test/"})
	if err != nil {
		t.Fatalf("EnsureAttached() = %v", err)
	}
	if got.TargetID != "t1" || !got.Active {
		t.Fatalf("EnsureAttached() = %+v; want active t1", got)
	}
	if len(host.opened) != 0 {
		t.Fatalf("host opened %v; want no new target", host.opened)
	}
	if len(host.attached) != 1 {
		t.Fatalf("host attached %v; want one attach", host.attached)
	}
}

func TestEnsureAttachedNoTarget(t *testing.T) {
	r := NewRegistry(newFakeHost())
	_, err := r.EnsureAttached(context.Background(), Selector{})
	if !wire.IsCode(err, wire.CodeNoActiveTarget) {
		t.Fatalf("EnsureAttached() = %v; want NO_ACTIVE_TARGET", err)
	}
}

func TestEnsureAttachedAutoOpen(t *testing.T) {
	host := newFakeHost()
	r := NewRegistry(host)
	got, err := r.EnsureAttached(context.Background(), Selector{AutoOpenURI: "https://example.com"})
	if err != nil {
		t.Fatalf("EnsureAttached() = %v", err)
	}
	if got.URL != "https://example.com" || len(host.opened) != 1 {
		t.Fatalf("EnsureAttached() = %+v opened = %v", got, host.opened)
	}

	labelled, err := r.EnsureAttached(context.Background(), Selector{Label: "docs", AutoOpenURI: "https://docs.test"})
	if err != nil {
		t.Fatalf("EnsureAttached(label) = %v", err)
	}
	if labelled.Label != "docs" || r.Len() != 2 {
		t.Fatalf("labelled = %+v len = %d", labelled, r.Len())
	}
}

func TestEnsureAttachedUnknownTarget(t *testing.T) {
	r := NewRegistry(newFakeHost("t1"))
	ctx := context.Background()

	_, err := r.EnsureAttached(ctx, Selector{TargetID: "missing"})
	if !wire.IsCode(err, wire.CodeTargetNotFound) {
		t.Fatalf("EnsureAttached(missing id) = %v; want TARGET_NOT_FOUND", err)
	}
	_, err = r.EnsureAttached(ctx, Selector{Label: "nope"})
	if !wire.IsCode(err, wire.CodeTargetNotFound) {
		t.Fatalf("EnsureAttached(missing label) = %v; want TARGET_NOT_FOUND", err)
	}
}

func TestLabelledTargetBecomesActive(t *testing.T) {
	host := newFakeHost("t-main", "t-checkout")
	r := NewRegistry(host)
	r.SetClock(fixedClock())
	ctx := context.Background()

	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t-main", Label: "main"}); err != nil {
		t.Fatalf("attach main = %v", err)
	}
	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t-checkout", Label: "checkout"}); err != nil {
		t.Fatalf("attach checkout = %v", err)
	}
	if _, err := r.EnsureAttached(ctx, Selector{Label: "main"}); err != nil {
		t.Fatalf("select main = %v", err)
	}

	if _, err := r.EnsureAttached(ctx, Selector{Label: "checkout"}); err != nil {
		t.Fatalf("select checkout = %v", err)
	}
	op, err := r.EnsureAttached(ctx, Selector{})
	if err != nil {
		t.Fatalf("unaddressed = %v", err)
	}
	if op.Label != "checkout" {
		t.Fatalf("unaddressed resolved to %q; want checkout", op.Label)
	}

	list := r.ListAttached()
	if len(list) != 2 || list[0].Label != "checkout" || list[1].Label != "main" {
		t.Fatalf("ListAttached() = %+v; want checkout first", list)
	}
	if !list[0].LastUsedAt.After(list[1].LastUsedAt) {
		t.Fatalf("checkout lastUsedAt %s not newer than main %s", list[0].LastUsedAt, list[1].LastUsedAt)
	}
	if !list[0].Active || list[1].Active {
		t.Fatalf("active flags = %v/%v; want checkout only", list[0].Active, list[1].Active)
	}
}

func TestSetLabel(t *testing.T) {
	r := NewRegistry(newFakeHost("t1", "t2"))
	ctx := context.Background()
	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t1", Label: "main"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t2", Label: "checkout"}); err != nil {
		t.Fatal(err)
	}

	_, err := r.SetLabel("t2", "main")
	if !wire.IsCode(err, wire.CodeDuplicateLabel) {
		t.Fatalf("SetLabel(collision) = %v; want DUPLICATE_LABEL", err)
	}
	got, err := r.SetLabel("checkout", "cart")
	if err != nil {
		t.Fatalf("SetLabel(by label) = %v", err)
	}
	if got.TargetID != "t2" || got.Label != "cart" {
		t.Fatalf("SetLabel() = %+v", got)
	}
	if _, err := r.SetLabel("main", "main"); err != nil {
		t.Fatalf("SetLabel(same label) = %v", err)
	}
	if _, err := r.SetLabel("ghost", "x"); !wire.IsCode(err, wire.CodeTargetNotFound) {
		t.Fatalf("SetLabel(unknown) = %v; want TARGET_NOT_FOUND", err)
	}
}

func TestTargetClosedClearsActive(t *testing.T) {
	r := NewRegistry(newFakeHost("t1", "t2"))
	ctx := context.Background()
	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t2"}); err != nil {
		t.Fatal(err)
	}

	if !r.TargetClosed("t2") {
		t.Fatal("TargetClosed(t2) = false; want true")
	}
	if r.TargetClosed("t2") {
		t.Fatal("second TargetClosed(t2) = true; want false")
	}
	if _, err := r.EnsureAttached(ctx, Selector{}); !wire.IsCode(err, wire.CodeNoActiveTarget) {
		t.Fatalf("unaddressed after close = %v; want NO_ACTIVE_TARGET", err)
	}
	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t1"}); err != nil {
		t.Fatalf("explicit after close = %v", err)
	}
	if got, err := r.EnsureAttached(ctx, Selector{}); err != nil || got.TargetID != "t1" {
		t.Fatalf("unaddressed after explicit = %+v, %v; want t1", got, err)
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	host := newFakeHost("t1")
	r := NewRegistry(host)
	ctx := context.Background()
	if _, err := r.EnsureAttached(ctx, Selector{TargetID: "t1"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := r.Detach(ctx, "t1"); err != nil {
			t.Fatalf("Detach() #%d = %v", i+1, err)
		}
	}
	if len(host.detached) != 1 {
		t.Fatalf("host detached %v; want once", host.detached)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d; want 0", r.Len())
	}
}

func TestDetachAll(t *testing.T) {
	host := newFakeHost("t1", "t2")
	r := NewRegistry(host)
	ctx := context.Background()
	for _, id := range []string{"t1", "t2"} {
		if _, err := r.EnsureAttached(ctx, Selector{TargetID: id}); err != nil {
			t.Fatal(err)
		}
	}
	r.DetachAll(ctx)
	if r.Len() != 0 || len(host.detached) != 2 {
		t.Fatalf("after DetachAll len = %d detached = %v", r.Len(), host.detached)
	}
	if _, err := r.EnsureAttached(ctx, Selector{}); !wire.IsCode(err, wire.CodeNoActiveTarget) {
		t.Fatalf("unaddressed after DetachAll = %v; want NO_ACTIVE_TARGET", err)
	}
}

func TestRegisterRejectsDuplicateLabel(t *testing.T) {
	r := NewRegistry(newFakeHost())
	if _, err := r.Register(TargetInfo{TargetID: "a", URL: "https://a.test"}, "main"); err != nil {
		t.Fatal(err)
	}
	_, err := r.Register(TargetInfo{TargetID: "b", URL: "https://b.test"}, "main")
	if !wire.IsCode(err, wire.CodeDuplicateLabel) {
		t.Fatalf("Register(dup) = %v; want DUPLICATE_LABEL", err)
	}
	r.UpdateInfo("a", "https://a.test/next", "Next")
	got, _ := r.Get("a")
	if got.URL != "https://a.test/next" || got.Title != "Next" {
		t.Fatalf("Get(a) = %+v after UpdateInfo", got)
	}
}
