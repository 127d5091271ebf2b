package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/voltson-proxy/internal/outlet"
	"github.com/nerrad567/voltson-proxy/internal/telemetry"
)

// outletResponse is a Snapshot annotated with its configured friendly
// name.
type outletResponse struct {
	outlet.Snapshot
	Name string `json:"name,omitempty"`
}

// handleListOutlets returns every outlet that has ever logged in.
func (s *Server) handleListOutlets(w http.ResponseWriter, _ *http.Request) {
	snaps := s.registry.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	out := make([]outletResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, outletResponse{
			Snapshot: snap,
			Name:     s.friendlyName(snap.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outlets": out,
		"count":   len(out),
	})
}

// handleGetOutlet returns the full snapshot for one outlet.
func (s *Server) handleGetOutlet(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap := state.Snapshot()
	writeJSON(w, http.StatusOK, outletResponse{
		Snapshot: snap,
		Name:     s.friendlyName(snap.ID),
	})
}

// handleGetState returns the relay position and raw energy fields, the
// read-only view of the authoritative state.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap := state.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      snap.ID,
		"relay":   snap.Relay,
		"power":   snap.Energy.Power,
		"voltage": snap.Energy.Voltage,
	})
}

// relayRequest is the body for the relay endpoint.
type relayRequest struct {
	Action string `json:"action"`
}

// handleSetRelay injects a relay command into the outlet's live session.
func (s *Server) handleSetRelay(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := state.InjectRelay(outlet.Relay(req.Action)); err != nil {
		s.writeInjectError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":    state.ID(),
		"relay": req.Action,
	})
}

// handleGetPower requests fresh telemetry from the device and waits for
// the answer.
//
// The watch is registered before the injection so the answering
// /runtimeInfo cannot slip through the gap, and the wait is bounded: a
// device that never answers yields 504, not a stuck handler.
func (s *Server) handleGetPower(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}

	updates, cancel := state.WatchPower()
	defer cancel()

	if err := state.InjectGetRuntime(); err != nil {
		s.writeInjectError(w, err)
		return
	}

	ctx, cancelWait := context.WithTimeout(r.Context(), s.runtimeTimeout())
	defer cancelWait()

	select {
	case snap := <-updates:
		reading, err := telemetry.DecodeEnergy(snap.Energy)
		if err != nil {
			writeInternalError(w, "undecodable energy reading")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":          snap.ID,
			"relay":       snap.Relay,
			"watts":       reading.Watts,
			"volts":       reading.Volts,
			"power_raw":   snap.Energy.Power,
			"voltage_raw": snap.Energy.Voltage,
		})
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "device did not report in time")
	}
}

// handleNightlight opens the relay for the configured duration, but only
// inside the configured night window. Outside the window the request is
// acknowledged without switching anything.
func (s *Server) handleNightlight(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if !s.isNight() {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":        state.ID(),
			"activated": false,
			"reason":    "outside night window",
		})
		return
	}

	// Already delivering power: leave it alone rather than arming a
	// switch-off timer under whoever turned it on.
	if snap := state.Snapshot(); snap.Relay == outlet.RelayOpen {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":        state.ID(),
			"activated": false,
			"reason":    "already on",
		})
		return
	}

	if err := state.InjectRelay(outlet.RelayOpen); err != nil {
		s.writeInjectError(w, err)
		return
	}

	duration := time.Duration(s.cfg.Nightlight.DurationMinutes) * time.Minute
	time.AfterFunc(duration, func() {
		if err := state.InjectRelay(outlet.RelayBreak); err != nil {
			s.logger.Warn("nightlight switch-off failed",
				"device_id", state.ID(),
				"error", err,
			)
		}
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"id":               state.ID(),
		"activated":        true,
		"duration_minutes": s.cfg.Nightlight.DurationMinutes,
	})
}

// handleEnergyHistory returns recent stored energy samples.
func (s *Server) handleEnergyHistory(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		writeNotFound(w, "history store not configured")
		return
	}

	samples, err := s.store.RecentSamples(r.Context(), state.ID(), queryLimit(r))
	if err != nil {
		s.logger.Error("energy history query failed", "device_id", state.ID(), "error", err)
		writeInternalError(w, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      state.ID(),
		"samples": samples,
		"count":   len(samples),
	})
}

// handleRelayHistory returns recent stored relay transitions.
func (s *Server) handleRelayHistory(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		writeNotFound(w, "history store not configured")
		return
	}

	transitions, err := s.store.RecentTransitions(r.Context(), state.ID(), queryLimit(r))
	if err != nil {
		s.logger.Error("relay history query failed", "device_id", state.ID(), "error", err)
		writeInternalError(w, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          state.ID(),
		"transitions": transitions,
		"count":       len(transitions),
	})
}

// lookup resolves the path's {name} to a device state, writing the 404
// itself when the device has never logged in.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*outlet.State, bool) {
	id := s.resolveID(chi.URLParam(r, "name"))
	state, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, "unknown outlet: "+id)
		return nil, false
	}
	return state, true
}

// writeInjectError maps injection failures onto HTTP statuses.
func (s *Server) writeInjectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, outlet.ErrInvalidRelay):
		writeBadRequest(w, "action must be \"open\" or \"break\"")
	case errors.Is(err, outlet.ErrNotReady):
		writeConflict(w, "outlet has no live session")
	default:
		s.logger.Error("injection failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeInternal, "message injection failed")
	}
}

func (s *Server) runtimeTimeout() time.Duration {
	if s.cfg.RuntimeTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.cfg.RuntimeTimeoutMS) * time.Millisecond
}

// isNight reports whether the current time falls inside the configured
// night window; the window may wrap midnight.
func (s *Server) isNight() bool {
	hour := s.now().Hour()
	start, end := s.cfg.Nightlight.StartHour, s.cfg.Nightlight.EndHour
	if start == end {
		return true // degenerate config: always night
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// queryLimit parses the optional ?limit= query parameter.
func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
