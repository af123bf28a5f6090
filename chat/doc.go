// Package chat turns a YouTube live chat into raffle entries.
//
// It provides three pieces:
//   - Locator: resolves the configured channel's active broadcast to its
//     liveChatId, caching the answer in the store for a few minutes.
//   - Poller: one PollOnce call fetches the next page of messages after the
//     durable cursor, records every message id in the per-chat dedup set with
//     an atomic add-if-absent, and hands first-seen gifts to the ledger.
//   - StartPoller: an optional in-process scheduler for deployments without an
//     external timer hitting /poll.
//
// The feed itself is abstracted by FeedSource/Dialer so the YouTube client
// (package youtubeapi) and test fakes are interchangeable.
package chat
