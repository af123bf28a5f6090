package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
)

// Locator resolves a channel to its active live chat.
type Locator struct {
	store   store.Store
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewLocator caches resolutions for ttl and bounds remote lookups by timeout.
func NewLocator(s store.Store, ttl, timeout time.Duration) *Locator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Locator{store: s, ttl: ttl, timeout: timeout, now: time.Now}
}

// Resolve returns the cached ChatFeedRef for channelID or looks it up among
// the owner's active broadcasts. Only broadcasts owned by channelID count; an
// identity that manages several channels must not pick up another one's chat.
func (l *Locator) Resolve(ctx context.Context, feed FeedSource, channelID string) (ChatFeedRef, error) {
	key := store.LiveChatKey(channelID)
	if raw, ok, err := l.store.Get(ctx, key); err != nil {
		return ChatFeedRef{}, fmt.Errorf("load live chat cache: %w", err)
	} else if ok {
		var ref ChatFeedRef
		if err := json.Unmarshal([]byte(raw), &ref); err == nil && ref.LiveChatID != "" && ref.ChannelID == channelID {
			telemetry.RecordLookup("cache")
			return ref, nil
		}
	}

	rctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	var broadcasts []Broadcast
	var err error
	telemetry.TimeFunc(telemetry.RemoteObserver("broadcasts"), func() {
		broadcasts, err = feed.ActiveBroadcasts(rctx)
	})
	if err != nil {
		return ChatFeedRef{}, fmt.Errorf("%w: list active broadcasts: %v", ErrFetchFailed, err)
	}
	for _, b := range broadcasts {
		if b.ChannelID != channelID || b.LiveChatID == "" {
			continue
		}
		ref := ChatFeedRef{
			ChannelID:   channelID,
			LiveChatID:  b.LiveChatID,
			BroadcastID: b.ID,
			Title:       b.Title,
			CachedAt:    l.now().UTC(),
		}
		if raw, err := json.Marshal(ref); err == nil {
			if err := l.store.Set(ctx, key, string(raw), l.ttl); err != nil {
				slog.Warn("live chat cache write failed", slog.Any("err", err), slog.String("component", "chat_locator"))
			}
		}
		telemetry.RecordLookup("remote")
		return ref, nil
	}
	telemetry.RecordLookup("none")
	return ChatFeedRef{}, ErrNoActiveStream
}

// Invalidate forgets the cached resolution for channelID.
func (l *Locator) Invalidate(ctx context.Context, channelID string) error {
	return l.store.Delete(ctx, store.LiveChatKey(channelID))
}
