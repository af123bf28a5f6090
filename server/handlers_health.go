package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HandleHealthz is the liveness probe: the store must answer a ping.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports whether the service can do useful work: the store is
// reachable, an owner is connected, and credential refresh is not degraded.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := []struct {
		name string
		fn   func() error
	}{
		{"store", func() error { return h.Store.Ping(ctx) }},
		{"credentials", func() error {
			ok, err := h.Refresher.Connected(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("youtube owner not connected")
			}
			return nil
		}},
		{"refresh", func() error {
			if h.Poller != nil && h.Poller.SharedStatus(ctx).Degraded {
				return errors.New("access credential refresh failing")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
