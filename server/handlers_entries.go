package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cadegiameos/Reaper-Gift-Wheel/access"
	"github.com/cadegiameos/Reaper-Gift-Wheel/ledger"
	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
)

type appendRequest struct {
	Name   string `json:"name"`
	Amount *int   `json:"amount"`
}

// HandleEntries lists (GET), manually appends (POST) or clears (DELETE) the wheel.
func (h *Handlers) HandleEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listEntries(w, r)
	case http.MethodPost:
		h.appendEntries(w, r)
	case http.MethodDelete:
		h.clearEntries(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.List(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list entries", slog.Any("err", err))
		http.Error(w, "failed to load entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handlers) appendEntries(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}
	total, err := h.Ledger.Append(r.Context(), name, amount)
	if errors.Is(err, ledger.ErrInvalidEntry) {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("manual append", slog.Any("err", err))
		http.Error(w, "failed to append entries", http.StatusInternalServerError)
		return
	}
	telemetry.RecordEntries("manual", amount)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": name, "added": amount, "total": total})
}

func (h *Handlers) clearEntries(w http.ResponseWriter, r *http.Request) {
	err := h.Ledger.Clear(r.Context(), editorCredential(r, h.EditorCookieName))
	switch {
	case errors.Is(err, access.ErrUnauthorized):
		writeMessage(w, http.StatusForbidden, err.Error())
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Error("clear entries", slog.Any("err", err))
		http.Error(w, "failed to clear entries", http.StatusInternalServerError)
	default:
		telemetry.LoggerWithCorr(r.Context()).Info("wheel cleared", slog.String("component", "http"))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// HandleDraw picks a weighted winner from the current entries.
func (h *Handlers) HandleDraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idx, name, err := h.Ledger.Draw(r.Context(), nil)
	if errors.Is(err, ledger.ErrEmpty) {
		writeMessage(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("draw", slog.Any("err", err))
		http.Error(w, "failed to draw", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": idx, "name": name})
}
