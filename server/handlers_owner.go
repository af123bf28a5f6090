package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cadegiameos/Reaper-Gift-Wheel/access"
	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
)

type connectRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleOwnerConnect stores the owner's refresh credential, mints the editor
// session and hands the token back both as a cookie and in the body. Without
// admin credentials configured it only accepts the first connection.
func (h *Handlers) HandleOwnerConnect(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		h.handleOwnerDisconnect(w, r)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "owner_connect"))

	if !isAuthenticated(ctx) {
		connected, err := h.Refresher.Connected(ctx)
		if err != nil {
			http.Error(w, "failed to check owner", http.StatusInternalServerError)
			return
		}
		if connected {
			writeMessage(w, http.StatusForbidden, "an owner is already connected; configure ADMIN_TOKEN to reconnect")
			return
		}
	}

	var req connectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	token, err := h.Gate.ConnectOwner(ctx, req.RefreshToken)
	if errors.Is(err, access.ErrEmptyRefreshToken) {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error("connect owner", slog.Any("err", err))
		http.Error(w, "failed to connect owner", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.EditorCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   h.EditorCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	log.Info("owner connected; editor session minted")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "editor_token": token})
}

// handleOwnerDisconnect forgets the owner. The editor (or an admin) may do this.
func (h *Handlers) handleOwnerDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !isAuthenticated(ctx) {
		err := h.Gate.AuthorizeDestructive(ctx, editorCredential(r, h.EditorCookieName))
		if errors.Is(err, access.ErrUnauthorized) {
			writeMessage(w, http.StatusForbidden, "only the connected editor may disconnect the owner")
			return
		}
		if err != nil {
			http.Error(w, "failed to authorize", http.StatusInternalServerError)
			return
		}
	}
	if err := h.Gate.DisconnectOwner(ctx); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("disconnect owner", slog.Any("err", err), slog.String("component", "owner_connect"))
		http.Error(w, "failed to disconnect owner", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: h.EditorCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: h.EditorCookieSecure, SameSite: http.SameSiteLaxMode})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
