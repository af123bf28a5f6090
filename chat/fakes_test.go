package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/cadegiameos/Reaper-Gift-Wheel/ledger"
	"github.com/cadegiameos/Reaper-Gift-Wheel/oauth"
	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
)

type fakeFeed struct {
	mu         sync.Mutex
	broadcasts []Broadcast
	listErr    error
	pages      []Page
	msgErr     error
	listCalls  int
	cursors    []string
}

func (f *fakeFeed) ActiveBroadcasts(context.Context) ([]Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.broadcasts, f.listErr
}

func (f *fakeFeed) Messages(_ context.Context, _ string, pageToken string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, pageToken)
	if f.msgErr != nil {
		return Page{}, f.msgErr
	}
	if len(f.pages) == 0 {
		return Page{}, nil
	}
	p := f.pages[0]
	if len(f.pages) > 1 {
		f.pages = f.pages[1:]
	}
	return p, nil
}

type fakeDialer struct {
	feed  FeedSource
	token string
}

func (d *fakeDialer) Dial(_ context.Context, token string) (FeedSource, error) {
	d.token = token
	return d.feed, nil
}

type fakeCreds struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (c *fakeCreds) EnsureAccessCredential(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.token, c.err
}

func (c *fakeCreds) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeCreds) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

type allowAll struct{}

func (allowAll) AuthorizeDestructive(context.Context, string) error { return nil }

type failingEntries struct{}

func (failingEntries) Append(context.Context, string, int) (int64, error) {
	return 0, errors.New("list write failed")
}

// flakyEntries fails the first `fail` appends, then passes through.
type flakyEntries struct {
	next Entries
	fail int
}

func (f *flakyEntries) Append(ctx context.Context, name string, count int) (int64, error) {
	if f.fail > 0 {
		f.fail--
		return 0, errors.New("transient list write failure")
	}
	return f.next.Append(ctx, name, count)
}

type harness struct {
	store  *store.Memory
	feed   *fakeFeed
	creds  *fakeCreds
	ledger *ledger.Ledger
	poller *Poller
}

func newHarness(channelID string) *harness {
	mem := store.NewMemory()
	feed := &fakeFeed{}
	creds := &fakeCreds{token: "access-1"}
	l := ledger.New(mem, allowAll{})
	p := NewPoller(mem, creds, &fakeDialer{feed: feed}, NewLocator(mem, 0, 0),
		NewChannelSelection(mem, channelID), l, PollerConfig{})
	return &harness{store: mem, feed: feed, creds: creds, ledger: l, poller: p}
}

var errNotConnected = oauth.ErrNotConnected
