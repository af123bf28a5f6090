package chat

import (
	"context"
	"errors"
	"time"
)

// ErrChatEnded is wrapped by FeedSource implementations when the remote
// reports the live chat is gone (ended, disabled or not found).
var ErrChatEnded = errors.New("live chat no longer available")

// Broadcast is an active live broadcast visible to the authenticated owner.
type Broadcast struct {
	ID         string
	ChannelID  string
	LiveChatID string
	Title      string
}

// Message is one live chat message.
type Message struct {
	ID     string
	Author string
	Text   string
	// GiftCount is the structured membership gift count, 0 when absent.
	GiftCount int64
}

// Page is one fetch from a live chat.
type Page struct {
	Messages              []Message
	NextPageToken         string
	PollingIntervalMillis int64
}

// FeedSource is an authenticated view of the upstream live chat API.
type FeedSource interface {
	ActiveBroadcasts(ctx context.Context) ([]Broadcast, error)
	Messages(ctx context.Context, liveChatID, pageToken string) (Page, error)
}

// Dialer opens a FeedSource for an access credential.
type Dialer interface {
	Dial(ctx context.Context, accessToken string) (FeedSource, error)
}

// ChatFeedRef maps a channel to its current live chat.
type ChatFeedRef struct {
	ChannelID   string    `json:"channel_id"`
	LiveChatID  string    `json:"live_chat_id"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	CachedAt    time.Time `json:"cached_at"`
}
