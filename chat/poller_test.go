package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cadegiameos/Reaper-Gift-Wheel/ledger"
	"github.com/cadegiameos/Reaper-Gift-Wheel/oauth"
	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
)

func liveHarness() *harness {
	h := newHarness("UC_me")
	h.feed.broadcasts = []Broadcast{{ID: "b1", ChannelID: "UC_me", LiveChatID: "chat1"}}
	return h
}

func TestPollOnceNoChannel(t *testing.T) {
	h := newHarness("")
	res, err := h.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if res.State != StateIdle || res.Processed != 0 {
		t.Errorf("res = %+v, want idle", res)
	}
	if h.creds.Calls() != 0 {
		t.Error("credentials requested without a channel")
	}
}

func TestPollOnceNoActiveStream(t *testing.T) {
	h := newHarness("UC_me")
	h.feed.broadcasts = []Broadcast{{ID: "other", ChannelID: "UC_other", LiveChatID: "chatX"}}
	res, err := h.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if res.State != StateIdle || res.LiveChatID != "" {
		t.Errorf("res = %+v, want idle without chat", res)
	}
	if len(h.feed.cursors) != 0 {
		t.Error("messages fetched for another channel's broadcast")
	}
}

func TestPollOnceAppliesGiftsOnce(t *testing.T) {
	h := liveHarness()
	page := Page{
		Messages: []Message{
			{ID: "m1", Author: "Alice", Text: "Alice gifted 3 memberships!"},
			{ID: "m2", Author: "Bob", Text: "hello chat"},
			{ID: "m3", Author: "Cara", Text: "", GiftCount: 2},
		},
		NextPageToken:         "tok1",
		PollingIntervalMillis: 5000,
	}
	h.feed.pages = []Page{page, page}
	ctx := context.Background()

	res, err := h.poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if res.State != StatePolled || res.Processed != 3 || res.Added != 5 {
		t.Errorf("first res = %+v", res)
	}
	if res.NextPollMs != 5000 {
		t.Errorf("NextPollMs = %d, want 5000", res.NextPollMs)
	}
	got, _ := h.ledger.List(ctx)
	if fmt.Sprint(got) != "[Alice Alice Alice Cara Cara]" {
		t.Fatalf("ledger = %v", got)
	}

	// same page redelivered
	res, err = h.poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}
	if res.Processed != 0 || res.Added != 0 {
		t.Errorf("redelivery res = %+v, want nothing new", res)
	}
	if got, _ := h.ledger.List(ctx); len(got) != 5 {
		t.Errorf("ledger grew on redelivery: %v", got)
	}
}

func TestPollOnceCursorAdvancesAndPersists(t *testing.T) {
	h := liveHarness()
	h.feed.pages = []Page{
		{NextPageToken: "tok1"},
		{NextPageToken: ""},
		{NextPageToken: "tok2"},
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := h.poller.PollOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}
	// empty token never overwrites the stored one
	want := []string{"", "tok1", "tok1"}
	if fmt.Sprint(h.feed.cursors) != fmt.Sprint(want) {
		t.Errorf("cursors sent = %q, want %q", h.feed.cursors, want)
	}
	v, _, _ := h.store.Get(ctx, store.PageTokenKey("chat1"))
	if v != "tok2" {
		t.Errorf("stored cursor = %q, want tok2", v)
	}

	// a fresh poller (process restart) resumes from the stored cursor
	p2 := NewPoller(h.store, h.creds, &fakeDialer{feed: h.feed}, NewLocator(h.store, 0, 0),
		NewChannelSelection(h.store, "UC_me"), h.ledger, PollerConfig{})
	if _, err := p2.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if last := h.feed.cursors[len(h.feed.cursors)-1]; last != "tok2" {
		t.Errorf("restarted poller used cursor %q, want tok2", last)
	}
}

func TestPollOnceCursorPersistedBeforeApply(t *testing.T) {
	h := liveHarness()
	h.feed.pages = []Page{{
		Messages:      []Message{{ID: "m1", Author: "A", Text: "gifted 2"}},
		NextPageToken: "tok1",
	}}
	h.poller.entries = failingEntries{}
	ctx := context.Background()

	_, err := h.poller.PollOnce(ctx)
	if err == nil {
		t.Fatal("expected append failure")
	}
	if v, _, _ := h.store.Get(ctx, store.PageTokenKey("chat1")); v != "tok1" {
		t.Errorf("cursor = %q, want tok1 persisted before the page was applied", v)
	}
}

func TestPollOnceFetchFailure(t *testing.T) {
	h := liveHarness()
	h.feed.msgErr = errors.New("connection reset")
	ctx := context.Background()
	_ = h.store.Set(ctx, store.PageTokenKey("chat1"), "tok0", 0)

	res, err := h.poller.PollOnce(ctx)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
	if res.State != StateFetchFailed {
		t.Errorf("state = %s", res.State)
	}
	if v, _, _ := h.store.Get(ctx, store.PageTokenKey("chat1")); v != "tok0" {
		t.Errorf("cursor moved to %q on failure", v)
	}
	// the cached feed ref survives a transient failure
	if _, ok, _ := h.store.Get(ctx, store.LiveChatKey("UC_me")); !ok {
		t.Error("transient failure dropped the locator cache")
	}
}

func TestPollOnceChatEndedInvalidates(t *testing.T) {
	h := liveHarness()
	h.feed.msgErr = fmt.Errorf("liveChatEnded: %w", ErrChatEnded)
	ctx := context.Background()

	if _, err := h.poller.PollOnce(ctx); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v", err)
	}
	if _, ok, _ := h.store.Get(ctx, store.LiveChatKey("UC_me")); ok {
		t.Error("locator cache kept after chat ended")
	}
}

func TestPollOnceCredentialErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		state State
		fatal bool
	}{
		{"not connected", oauth.ErrNotConnected, StateNotConnected, true},
		{"refresh failed", fmt.Errorf("%w: 400", oauth.ErrRefreshFailed), StateRefreshFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := liveHarness()
			h.creds.setErr(tt.err)
			res, err := h.poller.PollOnce(context.Background())
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if res.State != tt.state || res.State.Fatal() != tt.fatal {
				t.Errorf("state = %s fatal=%v", res.State, res.State.Fatal())
			}
			if h.feed.listCalls != 0 {
				t.Error("feed contacted without a credential")
			}
		})
	}
}

func TestPollerDegradedAfterRepeatedRefreshFailures(t *testing.T) {
	h := liveHarness()
	h.creds.setErr(oauth.ErrRefreshFailed)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = h.poller.PollOnce(ctx)
	}
	st := h.poller.Status()
	if st.ConsecutiveRefreshFailures != 3 || !st.Degraded {
		t.Errorf("status = %+v, want degraded after 3 failures", st)
	}
	h.creds.setErr(nil)
	_, _ = h.poller.PollOnce(ctx)
	if st := h.poller.Status(); st.Degraded || st.ConsecutiveRefreshFailures != 0 {
		t.Errorf("status after recovery = %+v", st)
	}
	if shared := h.poller.SharedStatus(ctx); shared.State != StatePolled {
		t.Errorf("shared status state = %s", shared.State)
	}
}

func TestPollOnceBusyWhenLeaseHeld(t *testing.T) {
	h := liveHarness()
	ctx := context.Background()
	_, _ = h.store.SetIfAbsent(ctx, store.PollLockKey("UC_me"), "other-process", time.Minute)

	res, err := h.poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if res.State != StateBusy {
		t.Errorf("state = %s, want busy", res.State)
	}
	if h.creds.Calls() != 0 {
		t.Error("busy cycle touched credentials")
	}
	// a foreign lease is not released by us
	if v, _, _ := h.store.Get(ctx, store.PollLockKey("UC_me")); v != "other-process" {
		t.Errorf("lease = %q", v)
	}
}

func TestPollOnceReleasesLease(t *testing.T) {
	h := liveHarness()
	ctx := context.Background()
	if _, err := h.poller.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.store.Get(ctx, store.PollLockKey("UC_me")); ok {
		t.Error("lease still held after the cycle")
	}
}

func TestConcurrentPollersApplyOnce(t *testing.T) {
	h := liveHarness()
	h.feed.pages = []Page{{
		Messages: []Message{{ID: "m1", Author: "Alice", Text: "gifted 3"}},
	}}
	ctx := context.Background()

	// two pollers share a store, as two processes would
	p2 := NewPoller(h.store, &fakeCreds{token: "t"}, &fakeDialer{feed: h.feed}, NewLocator(h.store, 0, 0),
		NewChannelSelection(h.store, "UC_me"), h.ledger, PollerConfig{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = h.poller.PollOnce(ctx) }()
		go func() { defer wg.Done(); _, _ = p2.PollOnce(ctx) }()
	}
	wg.Wait()
	got, _ := h.ledger.List(ctx)
	if len(got) != 3 {
		t.Errorf("ledger = %v, want Alice x3 exactly once", got)
	}
}

func TestPollOnceSkipsZeroAndClampsGifts(t *testing.T) {
	h := liveHarness()
	h.feed.pages = []Page{{Messages: []Message{
		{ID: "a", Author: "Zed", Text: "gift 0"},
		{ID: "b", Author: "", Text: "a gift for you"},
		{ID: "c", Author: "Big", GiftCount: 50000},
		{ID: "", Author: "NoID", Text: "gifted 4"},
	}}}
	h.poller.entries = ledger.New(h.store, allowAll{})
	ctx := context.Background()

	res, err := h.poller.PollOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 3 {
		t.Errorf("processed = %d, want 3 (message without id skipped)", res.Processed)
	}
	got, _ := h.ledger.List(ctx)
	if len(got) != 1+1000 || got[0] != "Unknown" {
		t.Errorf("ledger len = %d first = %q", len(got), got[0])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want State
	}{
		{nil, StatePolled},
		{errNotConnected, StateNotConnected},
		{fmt.Errorf("x: %w", oauth.ErrRefreshFailed), StateRefreshFailed},
		{ErrNoActiveStream, StateIdle},
		{fmt.Errorf("%w: boom", ErrFetchFailed), StateFetchFailed},
		{context.DeadlineExceeded, StateFetchFailed},
		{errors.New("disk full"), StateError},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if !StateUnauthorized.Fatal() || StateFetchFailed.Fatal() {
		t.Error("Fatal() misreports")
	}
}

func TestNextWait(t *testing.T) {
	tests := []struct {
		name     string
		res      Result
		failures int
		want     time.Duration
	}{
		{"interval wins", Result{State: StatePolled, NextDelay: 2 * time.Second}, 0, 8 * time.Second},
		{"hint wins", Result{State: StatePolled, NextDelay: 12 * time.Second}, 0, 12 * time.Second},
		{"refresh backoff", Result{State: StateRefreshFailed}, 3, 32 * time.Second},
		{"backoff capped", Result{State: StateRefreshFailed}, 20, maxBackoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextWait(tt.res, 8*time.Second, tt.failures); got != tt.want {
				t.Errorf("NextWait = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartPollerStops(t *testing.T) {
	h := liveHarness()
	ctx, cancel := context.WithCancel(context.Background())
	StartPoller(ctx, h.poller, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	if h.creds.Calls() == 0 {
		t.Error("scheduler never polled")
	}
}

func TestPollOnceFailedMessageDoesNotDropRestOfPage(t *testing.T) {
	h := liveHarness()
	h.feed.pages = []Page{{
		Messages: []Message{
			{ID: "m1", Author: "Alice", Text: "Alice gifted 3 memberships!"},
			{ID: "m2", Author: "Bob", Text: "Bob gifted 2 memberships!"},
		},
		NextPageToken: "tok1",
	}}
	h.poller.entries = &flakyEntries{next: h.ledger, fail: 1}
	ctx := context.Background()

	res, err := h.poller.PollOnce(ctx)
	if err == nil {
		t.Fatal("expected the failed append to be reported")
	}
	if res.State != StateError {
		t.Errorf("state = %s, want error", res.State)
	}
	if res.Processed != 2 || res.Added != 2 {
		t.Errorf("res = %+v, want both processed and Bob's 2 added", res)
	}
	if got, _ := h.ledger.List(ctx); fmt.Sprint(got) != "[Bob Bob]" {
		t.Errorf("ledger = %v, want [Bob Bob]", got)
	}

	// the cursor moved on; a redelivery of the page adds nothing twice
	if _, err := h.poller.PollOnce(ctx); err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}
	if got, _ := h.ledger.List(ctx); len(got) != 2 {
		t.Errorf("ledger after redelivery = %v", got)
	}
	if fmt.Sprint(h.feed.cursors) != fmt.Sprint([]string{"", "tok1"}) {
		t.Errorf("cursors = %q", h.feed.cursors)
	}
}

func TestPollOnceDedupSurvivesClear(t *testing.T) {
	h := liveHarness()
	h.feed.pages = []Page{{Messages: []Message{{ID: "m1", Author: "Alice", Text: "gifted 3"}}}}
	ctx := context.Background()

	if _, err := h.poller.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.ledger.Clear(ctx, ""); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	res, err := h.poller.PollOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 0 {
		t.Errorf("redelivered gift re-added after clear: %+v", res)
	}
	if got, _ := h.ledger.List(ctx); len(got) != 0 {
		t.Errorf("ledger after clear and redelivery = %v, want empty", got)
	}
}

func TestPollOnceSeenSetRetention(t *testing.T) {
	h := liveHarness()
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h.store.SetClock(func() time.Time { return now })
	h.feed.pages = []Page{{Messages: []Message{
		{ID: "m1", Author: "Alice", Text: "gifted 1"},
		{ID: "m2", Author: "Bob", Text: "gifted 1"},
	}}}
	ctx := context.Background()

	if _, err := h.poller.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}

	now = now.Add(5 * time.Hour)
	res, err := h.poller.PollOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 {
		t.Errorf("within retention processed = %d, want 0", res.Processed)
	}

	// default DEDUP_RETENTION is 6h from the cycle that added the ids
	now = now.Add(61 * time.Minute)
	res, err = h.poller.PollOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 {
		t.Errorf("after retention processed = %d, want both ids forgotten", res.Processed)
	}
}

func TestLeaseOutlastsWorstCaseCycle(t *testing.T) {
	cfg := PollerConfig{RemoteTimeout: 20 * time.Second}.withDefaults()
	if cfg.LeaseTTL <= 3*cfg.RemoteTimeout {
		t.Errorf("LeaseTTL = %v, want more than three remote calls (%v)", cfg.LeaseTTL, 3*cfg.RemoteTimeout)
	}
	if d := (PollerConfig{}).withDefaults(); d.LeaseTTL < 30*time.Second {
		t.Errorf("default LeaseTTL = %v", d.LeaseTTL)
	}
}

func TestBusyCycleKeepsSharedStatus(t *testing.T) {
	h := liveHarness()
	ctx := context.Background()
	h.creds.setErr(oauth.ErrRefreshFailed)
	_, _ = h.poller.PollOnce(ctx)
	if st := h.poller.SharedStatus(ctx); st.State != StateRefreshFailed {
		t.Fatalf("shared state = %s, want refresh_failed", st.State)
	}

	// another process holds the lease; this one only sees busy
	_, _ = h.store.SetIfAbsent(ctx, store.PollLockKey("UC_me"), "other-process", time.Minute)
	res, err := h.poller.PollOnce(ctx)
	if err != nil || res.State != StateBusy {
		t.Fatalf("res = %+v err = %v, want busy", res, err)
	}
	st := h.poller.SharedStatus(ctx)
	if st.State != StateRefreshFailed || st.LastError == "" {
		t.Errorf("shared status overwritten by busy cycle: %+v", st)
	}
}
