package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// commandRequest is the body for the natural-language command endpoint.
type commandRequest struct {
	Text string `json:"text"`
}

// handleCommand matches free text like "turn on the kitchen" against the
// configured patterns and injects the resulting relay action.
//
// Patterns are tried in config order; the first match wins. The captured
// name must resolve through the friendly-name map to a device that has
// logged in.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	text := strings.TrimSpace(strings.ToLower(req.Text))
	if text == "" {
		writeBadRequest(w, "text is required")
		return
	}

	for _, cmd := range s.commands {
		match := cmd.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		name := match[cmd.re.SubexpIndex("name")]
		id := s.resolveID(name)
		state, err := s.registry.Get(id)
		if err != nil {
			writeNotFound(w, "unknown outlet: "+name)
			return
		}

		if err := state.InjectRelay(cmd.action); err != nil {
			s.writeInjectError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      state.ID(),
			"name":    name,
			"relay":   cmd.action,
			"matched": cmd.re.String(),
		})
		return
	}

	writeBadRequest(w, "no command pattern matched")
}
