package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadegiameos/Reaper-Gift-Wheel/gift"
	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
)

// DefaultPollInterval is used when the feed gives no pollingIntervalMillis.
const DefaultPollInterval = 8 * time.Second

// Credentials supplies access credentials (oauth.Refresher).
type Credentials interface {
	EnsureAccessCredential(ctx context.Context) (string, error)
}

// Entries is where first-seen gifts go (ledger.Ledger).
type Entries interface {
	Append(ctx context.Context, name string, count int) (int64, error)
}

// PollerConfig tunes a Poller. Zero values take the defaults noted.
type PollerConfig struct {
	DedupRetention          time.Duration // 6h
	RemoteTimeout           time.Duration // 10s
	LeaseTTL                time.Duration // 4x RemoteTimeout, at least 30s
	RefreshFailureThreshold int           // 3
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.DedupRetention <= 0 {
		c.DedupRetention = 6 * time.Hour
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = 10 * time.Second
	}
	if c.LeaseTTL <= 0 {
		// refresh, broadcasts and messages may each use a full RemoteTimeout
		c.LeaseTTL = 4 * c.RemoteTimeout
		if c.LeaseTTL < 30*time.Second {
			c.LeaseTTL = 30 * time.Second
		}
	}
	if c.RefreshFailureThreshold < 1 {
		c.RefreshFailureThreshold = 3
	}
	return c
}

// Result describes one poll cycle.
type Result struct {
	State      State         `json:"state"`
	ChannelID  string        `json:"channel_id,omitempty"`
	LiveChatID string        `json:"live_chat_id,omitempty"`
	Processed  int           `json:"processed"`
	Added      int           `json:"added"`
	NextDelay  time.Duration `json:"-"`
	NextPollMs int64         `json:"next_poll_in_ms"`
}

// Status is the poller health snapshot served by /status.
type Status struct {
	State                      State     `json:"state"`
	LastPollAt                 time.Time `json:"last_poll_at,omitempty"`
	LastSuccessAt              time.Time `json:"last_success_at,omitempty"`
	LastError                  string    `json:"last_error,omitempty"`
	LiveChatID                 string    `json:"live_chat_id,omitempty"`
	ConsecutiveRefreshFailures int       `json:"consecutive_refresh_failures"`
	Degraded                   bool      `json:"degraded"`
	TotalProcessed             int64     `json:"total_processed"`
	TotalAdded                 int64     `json:"total_added"`
}

// Poller runs poll cycles for the selected channel.
type Poller struct {
	store    store.Store
	creds    Credentials
	dialer   Dialer
	locator  *Locator
	channels *ChannelSelection
	entries  Entries
	cfg      PollerConfig
	leaseID  string

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	statusMu sync.Mutex
	status   Status
}

// NewPoller wires a Poller.
func NewPoller(s store.Store, creds Credentials, dialer Dialer, locator *Locator, channels *ChannelSelection, entries Entries, cfg PollerConfig) *Poller {
	return &Poller{
		store:    s,
		creds:    creds,
		dialer:   dialer,
		locator:  locator,
		channels: channels,
		entries:  entries,
		cfg:      cfg.withDefaults(),
		leaseID:  uuid.NewString(),
		locks:    make(map[string]chan struct{}),
		status:   Status{State: StateIdle},
	}
}

// lock serializes cycles per channel inside this process.
func (p *Poller) lock(ctx context.Context, channelID string) (func(), error) {
	p.locksMu.Lock()
	ch, ok := p.locks[channelID]
	if !ok {
		ch = make(chan struct{}, 1)
		p.locks[channelID] = ch
	}
	p.locksMu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquireLease takes the cross-process lease for channelID.
func (p *Poller) acquireLease(ctx context.Context, channelID string) (bool, func(), error) {
	key := store.PollLockKey(channelID)
	ok, err := p.store.SetIfAbsent(ctx, key, p.leaseID, p.cfg.LeaseTTL)
	if err != nil || !ok {
		return false, nil, err
	}
	return true, func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		// only drop the lease if it is still ours; an expired lease may have been retaken
		if v, ok, err := p.store.Get(rctx, key); err == nil && ok && v == p.leaseID {
			_ = p.store.Delete(rctx, key)
		}
	}, nil
}

// PollOnce runs a single cycle. Idle and busy cycles return a nil error;
// failures return an error that Classify maps to the Result's state.
func (p *Poller) PollOnce(ctx context.Context) (res Result, err error) {
	start := time.Now()
	res = Result{State: StateIdle, NextDelay: DefaultPollInterval}

	ctx, span := telemetry.StartSpan(ctx, "chat-poller", "PollOnce")
	defer func() {
		res.NextPollMs = res.NextDelay.Milliseconds()
		if err != nil {
			res.State = Classify(err)
			telemetry.RecordError(span, err)
		} else {
			telemetry.SetSpanSuccess(span)
		}
		span.SetAttributes(telemetry.PollAttrs(res.ChannelID, res.LiveChatID)...)
		span.End()
		telemetry.RecordPoll(string(res.State), time.Since(start))
		p.record(res, err)
	}()

	channelID, _, err := p.channels.Current(ctx)
	if err != nil {
		return res, fmt.Errorf("load channel: %w", err)
	}
	if channelID == "" {
		return res, nil
	}
	res.ChannelID = channelID

	unlock, err := p.lock(ctx, channelID)
	if err != nil {
		return res, err
	}
	defer unlock()

	ok, release, err := p.acquireLease(ctx, channelID)
	if err != nil {
		return res, fmt.Errorf("acquire poll lease: %w", err)
	}
	if !ok {
		res.State = StateBusy
		return res, nil
	}
	defer release()

	token, err := p.creds.EnsureAccessCredential(ctx)
	if err != nil {
		return res, err
	}
	feed, err := p.dialer.Dial(ctx, token)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	ref, err := p.locator.Resolve(ctx, feed, channelID)
	if errors.Is(err, ErrNoActiveStream) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.LiveChatID = ref.LiveChatID

	return p.consume(ctx, feed, ref, res)
}

// consume fetches one page for ref and applies it.
func (p *Poller) consume(ctx context.Context, feed FeedSource, ref ChatFeedRef, res Result) (Result, error) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_poller"), slog.String("live_chat_id", ref.LiveChatID))
	cursorKey := store.PageTokenKey(ref.LiveChatID)
	seenKey := store.SeenSetKey(ref.LiveChatID)

	cursor, _, err := p.store.Get(ctx, cursorKey)
	if err != nil {
		return res, fmt.Errorf("load cursor: %w", err)
	}

	var page Page
	telemetry.TimeFunc(telemetry.RemoteObserver("messages"), func() {
		rctx, cancel := context.WithTimeout(ctx, p.cfg.RemoteTimeout)
		defer cancel()
		page, err = feed.Messages(rctx, ref.LiveChatID, cursor)
	})
	if err != nil {
		if errors.Is(err, ErrChatEnded) {
			if ierr := p.locator.Invalidate(ctx, ref.ChannelID); ierr != nil {
				log.Warn("live chat cache invalidate failed", slog.Any("err", ierr))
			}
			log.Info("live chat ended; cache invalidated")
		}
		return res, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if page.PollingIntervalMillis > 0 {
		res.NextDelay = time.Duration(page.PollingIntervalMillis) * time.Millisecond
	}

	// The cursor moves before the page is applied; a crash mid-page relies on
	// the dedup set rather than replaying acknowledged pages.
	if page.NextPageToken != "" && page.NextPageToken != cursor {
		if err := p.store.Set(ctx, cursorKey, page.NextPageToken, p.cfg.DedupRetention); err != nil {
			return res, fmt.Errorf("persist cursor: %w", err)
		}
	}

	// A failed message does not stop the page: the cursor has already moved,
	// so anything skipped here would never be fetched again.
	var errs []error
	for _, m := range page.Messages {
		if m.ID == "" {
			continue
		}
		isNew, err := p.store.AddIfAbsent(ctx, seenKey, m.ID)
		if err != nil {
			log.Warn("dedup check failed", slog.String("message_id", m.ID), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("dedup %s: %w", m.ID, err))
			continue
		}
		telemetry.RecordMessage(!isNew)
		if !isNew {
			continue
		}
		res.Processed++

		g := gift.Extract(m.Author, m.Text)
		if m.GiftCount > 0 {
			g.Amount = int(min(m.GiftCount, gift.MaxAmount))
		}
		if g.Amount == 0 {
			continue
		}
		if _, err := p.entries.Append(ctx, g.Name, g.Amount); err != nil {
			log.Warn("gift not applied", slog.String("name", g.Name), slog.Int("amount", g.Amount),
				slog.String("message_id", m.ID), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("append %d for %s: %w", g.Amount, g.Name, err))
			continue
		}
		res.Added += g.Amount
		telemetry.RecordEntries("chat", g.Amount)
		log.Info("gift applied", slog.String("name", g.Name), slog.Int("amount", g.Amount), slog.String("message_id", m.ID))
	}
	// after the loop so every member added this cycle carries the retention
	if res.Processed > 0 {
		if err := p.store.Expire(ctx, seenKey, p.cfg.DedupRetention); err != nil {
			log.Warn("dedup set expiry failed", slog.Any("err", err))
		}
	}
	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	res.State = StatePolled
	return res, nil
}

// record updates the status snapshot after a cycle.
func (p *Poller) record(res Result, err error) {
	p.statusMu.Lock()
	now := time.Now().UTC()
	s := &p.status
	s.State = res.State
	s.LastPollAt = now
	if res.LiveChatID != "" {
		s.LiveChatID = res.LiveChatID
	}
	switch res.State {
	case StateRefreshFailed:
		s.ConsecutiveRefreshFailures++
	case StateBusy:
	default:
		s.ConsecutiveRefreshFailures = 0
	}
	s.Degraded = s.ConsecutiveRefreshFailures >= p.cfg.RefreshFailureThreshold
	if err != nil {
		s.LastError = err.Error()
	} else {
		s.LastError = ""
		s.LastSuccessAt = now
	}
	s.TotalProcessed += int64(res.Processed)
	s.TotalAdded += int64(res.Added)
	snapshot := *s
	p.statusMu.Unlock()

	// a busy cycle says nothing about the process that holds the lease
	if res.State == StateBusy {
		return
	}

	telemetry.SetRefreshFailures(snapshot.ConsecutiveRefreshFailures)
	if snapshot.Degraded && res.State == StateRefreshFailed {
		slog.Error("access credential refresh keeps failing; owner may need to reconnect",
			slog.Int("consecutive_failures", snapshot.ConsecutiveRefreshFailures), slog.String("component", "chat_poller"))
	}
	if raw, mErr := json.Marshal(snapshot); mErr == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.store.Set(ctx, store.KeyPollStatus, string(raw), 0)
	}
}

// Status returns this process's snapshot.
func (p *Poller) Status() Status {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

// SharedStatus returns the latest snapshot written by any process, falling
// back to the local one.
func (p *Poller) SharedStatus(ctx context.Context) Status {
	if raw, ok, err := p.store.Get(ctx, store.KeyPollStatus); err == nil && ok {
		var s Status
		if json.Unmarshal([]byte(raw), &s) == nil {
			return s
		}
	}
	return p.Status()
}
