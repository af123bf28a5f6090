// Package store defines the durable key/value collaborator the raffle core
// depends on: plain keys with optional expiry, sets with an atomic
// add-if-absent, and append-only lists. Postgres (package db), Redis (package
// redisstore) and the in-memory Memory type implement it.
package store

import (
	"context"
	"time"
)

// Store is the durable key/value contract. A zero ttl means "no expiry".
type Store interface {
	// Get returns the value for key and whether it exists (and is not expired).
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes key, replacing any previous value and expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent writes key only when it does not exist; it reports whether it wrote.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes keys of any kind (plain, set or list). Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// AddIfAbsent atomically inserts member into the set and reports whether it was new.
	AddIfAbsent(ctx context.Context, setKey, member string) (bool, error)
	// Expire sets the expiry of a whole key (plain, set or list) to now+ttl.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Append atomically pushes values onto the tail of a list and returns its new length.
	Append(ctx context.Context, listKey string, values ...string) (int64, error)
	// Range returns every list element in insertion order.
	Range(ctx context.Context, listKey string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Key names shared by the components. Keys with a trailing colon are prefixes.
const (
	KeyRefreshToken  = "yt:refresh_token"
	KeyAccessToken   = "yt:access_token"
	KeyChannelID     = "yt:channel_id"
	KeyChannelTitle  = "yt:channel_title"
	KeyEditorSession = "editor:session"
	KeyWheelEntries  = "wheel:entries"
	KeyPollStatus    = "poll:status"
	prefixLiveChat   = "yt:live_chat:"
	prefixPageToken  = "yt:page_token:"
	prefixSeenSet    = "yt:seen:"
	prefixPollLock   = "poll:lock:"
)

// LiveChatKey caches the ChatFeedRef resolved for a channel.
func LiveChatKey(channelID string) string { return prefixLiveChat + channelID }

// PageTokenKey holds the pagination cursor of one live chat.
func PageTokenKey(liveChatID string) string { return prefixPageToken + liveChatID }

// SeenSetKey holds the message ids already applied for one live chat.
func SeenSetKey(liveChatID string) string { return prefixSeenSet + liveChatID }

// PollLockKey is the cross-process lease serializing polls of one channel.
func PollLockKey(channelID string) string { return prefixPollLock + channelID }
