package chat

import (
	"context"
	"errors"

	"github.com/cadegiameos/Reaper-Gift-Wheel/access"
	"github.com/cadegiameos/Reaper-Gift-Wheel/oauth"
)

var (
	// ErrNoActiveStream is the idle signal: the channel has no live broadcast with a chat.
	ErrNoActiveStream = errors.New("no active stream")
	// ErrFetchFailed wraps transport and API errors from the feed.
	ErrFetchFailed = errors.New("chat fetch failed")
)

// State is the outcome of a poll cycle.
type State string

const (
	StateIdle          State = "idle"
	StatePolled        State = "polled"
	StateBusy          State = "busy"
	StateNotConnected  State = "not_connected"
	StateRefreshFailed State = "refresh_failed"
	StateFetchFailed   State = "fetch_failed"
	StateUnauthorized  State = "unauthorized"
	StateError         State = "error"
)

// Fatal reports whether the state needs a human (owner reconnect, editor
// token) rather than another scheduled attempt.
func (s State) Fatal() bool {
	return s == StateNotConnected || s == StateUnauthorized
}

// OK reports whether the cycle completed without a failure.
func (s State) OK() bool {
	return s == StateIdle || s == StatePolled || s == StateBusy
}

// Classify maps an error from the pipeline to a State.
func Classify(err error) State {
	switch {
	case err == nil:
		return StatePolled
	case errors.Is(err, oauth.ErrNotConnected):
		return StateNotConnected
	case errors.Is(err, oauth.ErrRefreshFailed):
		return StateRefreshFailed
	case errors.Is(err, ErrNoActiveStream):
		return StateIdle
	case errors.Is(err, access.ErrUnauthorized):
		return StateUnauthorized
	case errors.Is(err, ErrFetchFailed), errors.Is(err, ErrChatEnded),
		errors.Is(err, context.DeadlineExceeded):
		return StateFetchFailed
	default:
		return StateError
	}
}
