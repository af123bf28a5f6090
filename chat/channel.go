package chat

import (
	"context"
	"strings"

	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
)

// ChannelSelection is the monitored channel: the stored choice, else the configured default.
type ChannelSelection struct {
	store    store.Store
	fallback string
}

// NewChannelSelection returns a selection defaulting to fallback (YT_CHANNEL_ID).
func NewChannelSelection(s store.Store, fallback string) *ChannelSelection {
	return &ChannelSelection{store: s, fallback: strings.TrimSpace(fallback)}
}

// Current returns the channel id and title; id is "" when nothing is configured.
func (c *ChannelSelection) Current(ctx context.Context) (id, title string, err error) {
	id, ok, err := c.store.Get(ctx, store.KeyChannelID)
	if err != nil {
		return "", "", err
	}
	if !ok || id == "" {
		return c.fallback, "", nil
	}
	title, _, err = c.store.Get(ctx, store.KeyChannelTitle)
	if err != nil {
		return "", "", err
	}
	return id, title, nil
}

// Select stores a channel choice. An empty id reverts to the default.
func (c *ChannelSelection) Select(ctx context.Context, id, title string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return c.store.Delete(ctx, store.KeyChannelID, store.KeyChannelTitle)
	}
	if err := c.store.Set(ctx, store.KeyChannelID, id, 0); err != nil {
		return err
	}
	return c.store.Set(ctx, store.KeyChannelTitle, strings.TrimSpace(title), 0)
}
