package server

import (
	"log/slog"
	"net/http"

	"github.com/cadegiameos/Reaper-Gift-Wheel/chat"
	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
)

type pollResponse struct {
	OK bool `json:"ok"`
	chat.Result
	Error string `json:"error,omitempty"`
}

// pollHTTPStatus maps a cycle state to the code the external scheduler sees.
func pollHTTPStatus(s chat.State) int {
	switch {
	case s.OK():
		return http.StatusOK
	case s == chat.StateNotConnected:
		return http.StatusConflict
	case s == chat.StateUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// HandlePoll runs one poll cycle. It is the endpoint an external timer hits
// when the in-process scheduler is off.
func (h *Handlers) HandlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := h.Poller.PollOnce(r.Context())
	out := pollResponse{OK: res.State.OK(), Result: res}
	if err != nil {
		out.Error = err.Error()
		telemetry.LoggerWithCorr(r.Context()).Warn("poll cycle failed",
			slog.String("state", string(res.State)), slog.Any("err", err), slog.String("component", "http"))
	}
	writeJSON(w, pollHTTPStatus(res.State), out)
}

type statusResponse struct {
	Connected    bool        `json:"connected"`
	ChannelID    string      `json:"channel_id,omitempty"`
	ChannelTitle string      `json:"channel_title,omitempty"`
	Editor       bool        `json:"editor"`
	CanClear     bool        `json:"can_clear"`
	Entries      int         `json:"entries"`
	Poller       chat.Status `json:"poller"`
}

// HandleStatus reports owner connection, channel, editor capability of the
// caller and the latest poller snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx)
	var resp statusResponse
	var err error

	if resp.Connected, err = h.Refresher.Connected(ctx); err != nil {
		log.Error("status: owner check", slog.Any("err", err))
		http.Error(w, "failed to load status", http.StatusInternalServerError)
		return
	}
	if resp.ChannelID, resp.ChannelTitle, err = h.Channels.Current(ctx); err != nil {
		log.Error("status: channel", slog.Any("err", err))
		http.Error(w, "failed to load status", http.StatusInternalServerError)
		return
	}
	cred := editorCredential(r, h.EditorCookieName)
	if resp.Editor, err = h.Gate.IsEditor(ctx, cred); err != nil {
		log.Warn("status: editor check", slog.Any("err", err))
	}
	resp.CanClear = h.Gate.AuthorizeDestructive(ctx, cred) == nil
	if entries, err := h.Ledger.List(ctx); err == nil {
		resp.Entries = len(entries)
	}
	resp.Poller = h.Poller.SharedStatus(ctx)
	writeJSON(w, http.StatusOK, resp)
}
