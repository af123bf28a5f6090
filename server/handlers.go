package server

import (
	"github.com/cadegiameos/Reaper-Gift-Wheel/access"
	"github.com/cadegiameos/Reaper-Gift-Wheel/chat"
	"github.com/cadegiameos/Reaper-Gift-Wheel/ledger"
	"github.com/cadegiameos/Reaper-Gift-Wheel/oauth"
	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
	"github.com/cadegiameos/Reaper-Gift-Wheel/youtubeapi"
)

// Deps are the components the handlers drive.
type Deps struct {
	Store     store.Store
	Ledger    *ledger.Ledger
	Gate      *access.Gate
	Refresher *oauth.Refresher
	Poller    *chat.Poller
	Channels  *chat.ChannelSelection
	YouTube   *youtubeapi.Client

	EditorCookieName   string
	EditorCookieSecure bool
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	if deps.EditorCookieName == "" {
		deps.EditorCookieName = "yt_editor"
	}
	return &Handlers{Deps: deps}
}
