// Package admin serves the /admin control plane of the reference backend.
// Test harnesses use it to reset and seed state, inject faults, read the
// request journal and move the simulated clock.
package admin

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/wondertwin-ai/apiconform/pkg/store"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

// StateStore is the backend's data layer.
type StateStore interface {
	// Snapshot returns the full state, ready to be encoded as JSON.
	Snapshot() any
	// LoadState replaces the full state with a JSON document.
	LoadState(data []byte) error
	// Reset drops all state and reapplies the seed.
	Reset()
}

// Settings exposes server settings that may change at runtime.
type Settings interface {
	GetConfig() map[string]any
	UpdateConfig(updates map[string]any) error
}

// Handler serves the admin endpoints.
type Handler struct {
	state    StateStore
	ctl      *twincore.Controls
	clock    *store.Clock
	settings Settings
}

// NewHandler returns a handler over state and ctl. clock and settings may
// be nil; their endpoints then answer 404.
func NewHandler(state StateStore, ctl *twincore.Controls, clock *store.Clock, settings Settings) *Handler {
	return &Handler{state: state, ctl: ctl, clock: clock, settings: settings}
}

// Routes mounts the endpoints under /admin.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			twincore.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Post("/reset", h.reset)

		r.Get("/state", h.getState)
		r.Post("/state", h.loadState)

		r.Get("/faults", h.listFaults)
		r.Delete("/faults", h.clearFaults)
		r.Post("/fault/*", h.putFault)
		r.Delete("/fault/*", h.dropFault)

		r.Get("/requests", h.requests)

		r.Get("/config", h.getConfig)
		r.Post("/config", h.updateConfig)

		r.Get("/time", h.getTime)
		r.Post("/time/advance", h.advanceTime)
	})
}

// reset returns the backend to its seeded state: data, faults, journal
// and clock.
func (h *Handler) reset(w http.ResponseWriter, _ *http.Request) {
	h.state.Reset()
	h.ctl.Faults.Clear()
	h.ctl.Journal.Clear()
	if h.clock != nil {
		h.clock.Reset()
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) getState(w http.ResponseWriter, _ *http.Request) {
	twincore.JSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *Handler) loadState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	if err := h.state.LoadState(body); err != nil {
		twincore.Error(w, http.StatusBadRequest, "loading state: "+err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (h *Handler) listFaults(w http.ResponseWriter, _ *http.Request) {
	twincore.JSON(w, http.StatusOK, h.ctl.Faults.List())
}

func (h *Handler) clearFaults(w http.ResponseWriter, _ *http.Request) {
	h.ctl.Faults.Clear()
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// putFault registers the fault in the body for the path after /fault.
func (h *Handler) putFault(w http.ResponseWriter, r *http.Request) {
	pattern := "/" + chi.URLParam(r, "*")
	var f twincore.Fault
	if !decode(w, r, &f) {
		return
	}
	if err := h.ctl.Faults.Put(pattern, f); err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, twincore.FaultRule{Pattern: pattern, Fault: f})
}

func (h *Handler) dropFault(w http.ResponseWriter, r *http.Request) {
	pattern := "/" + chi.URLParam(r, "*")
	if !h.ctl.Faults.Drop(pattern) {
		twincore.Error(w, http.StatusNotFound, "no fault for "+pattern)
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "removed", "pattern": pattern})
}

// requests lists journaled exchanges, oldest first. ?since=N returns only
// those recorded after sequence number N.
func (h *Handler) requests(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			twincore.Error(w, http.StatusBadRequest, fmt.Sprintf("since must be a sequence number, got %q", raw))
			return
		}
		since = n
	}
	twincore.JSON(w, http.StatusOK, h.ctl.Journal.Since(since))
}

func (h *Handler) getConfig(w http.ResponseWriter, _ *http.Request) {
	if h.settings == nil {
		twincore.Error(w, http.StatusNotFound, "runtime settings not available")
		return
	}
	twincore.JSON(w, http.StatusOK, h.settings.GetConfig())
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	if h.settings == nil {
		twincore.Error(w, http.StatusNotFound, "runtime settings not available")
		return
	}
	var updates map[string]any
	if !decode(w, r, &updates) {
		return
	}
	if err := h.settings.UpdateConfig(updates); err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, h.settings.GetConfig())
}

func (h *Handler) getTime(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{"real": time.Now().Format(time.RFC3339)}
	if h.clock != nil {
		out["simulated"] = h.clock.Now().Format(time.RFC3339)
		out["offset"] = h.clock.Offset().String()
	}
	twincore.JSON(w, http.StatusOK, out)
}

// advanceTime moves the simulated clock forward by a Go duration such as
// "24h".
func (h *Handler) advanceTime(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		twincore.Error(w, http.StatusNotFound, "no simulated clock")
		return
	}
	var body struct {
		Duration string `json:"duration"`
	}
	if !decode(w, r, &body) {
		return
	}
	d, err := time.ParseDuration(body.Duration)
	if err != nil || d < 0 {
		twincore.Error(w, http.StatusBadRequest, fmt.Sprintf("duration must be a non-negative Go duration, got %q", body.Duration))
		return
	}
	h.clock.Advance(d)
	twincore.JSON(w, http.StatusOK, map[string]string{
		"offset":    h.clock.Offset().String(),
		"simulated": h.clock.Now().Format(time.RFC3339),
	})
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
