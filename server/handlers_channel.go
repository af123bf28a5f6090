package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cadegiameos/Reaper-Gift-Wheel/access"
	"github.com/cadegiameos/Reaper-Gift-Wheel/oauth"
	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
)

type channelBody struct {
	ChannelID    string `json:"channel_id"`
	ChannelTitle string `json:"channel_title"`
}

// HandleChannel reads (GET) or changes (PUT, editor only) the monitored channel.
// PUT with an empty channel_id reverts to YT_CHANNEL_ID.
func (h *Handlers) HandleChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		id, title, err := h.Channels.Current(ctx)
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Error("load channel", slog.Any("err", err))
			http.Error(w, "failed to load channel", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, channelBody{ChannelID: id, ChannelTitle: title})
	case http.MethodPut:
		if err := h.Gate.AuthorizeDestructive(ctx, editorCredential(r, h.EditorCookieName)); err != nil {
			if errors.Is(err, access.ErrUnauthorized) {
				writeMessage(w, http.StatusForbidden, "only the connected editor may change the channel")
				return
			}
			http.Error(w, "failed to authorize", http.StatusInternalServerError)
			return
		}
		var body channelBody
		if err := decodeBody(w, r, &body); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := h.Channels.Select(ctx, body.ChannelID, body.ChannelTitle); err != nil {
			telemetry.LoggerWithCorr(ctx).Error("select channel", slog.Any("err", err))
			http.Error(w, "failed to save channel", http.StatusInternalServerError)
			return
		}
		id, title, _ := h.Channels.Current(ctx)
		telemetry.LoggerWithCorr(ctx).Info("channel selected", slog.String("channel_id", id), slog.String("component", "http"))
		writeJSON(w, http.StatusOK, channelBody{ChannelID: id, ChannelTitle: strings.TrimSpace(title)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleChannels lists the channels the connected owner manages.
func (h *Handlers) HandleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	token, err := h.Refresher.EnsureAccessCredential(ctx)
	switch {
	case errors.Is(err, oauth.ErrNotConnected):
		writeMessage(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		telemetry.LoggerWithCorr(ctx).Warn("channels: credential", slog.Any("err", err))
		writeMessage(w, http.StatusBadGateway, "could not refresh youtube credential")
		return
	}
	sess, err := h.YouTube.Session(ctx, token)
	if err != nil {
		http.Error(w, "failed to open youtube session", http.StatusInternalServerError)
		return
	}
	channels, err := sess.MyChannels(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("channels: list", slog.Any("err", err))
		writeMessage(w, http.StatusBadGateway, "could not list youtube channels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}
