package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
)

type componentStatus struct {
	OK          bool    `json:"ok"`
	Error       string  `json:"error,omitempty"`
	Forwarded   *uint64 `json:"forwarded,omitempty"`
	Reconnects  *uint64 `json:"reconnects,omitempty"`
	Controllers *int    `json:"controllers,omitempty"`
	Live        *int    `json:"live,omitempty"`
	Watchers    *int    `json:"watchers,omitempty"`
	LastSweep   string  `json:"last_sweep,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports the state of every component.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := make(map[string]componentStatus)

		for name, err := range runChecks(r.Context(), d.Checks) {
			s := componentStatus{OK: err == nil}
			if err != nil {
				s.Error = err.Error()
			}
			components[name] = s
		}

		if d.Relay != nil {
			forwarded, reconnects := d.Relay.Forwarded(), d.Relay.Reconnects()
			components["relay"] = componentStatus{
				OK:         d.Relay.Live(),
				Forwarded:  &forwarded,
				Reconnects: &reconnects,
			}
		}

		if d.Registry != nil {
			stats := d.Registry.Stats()
			lastSweep := "never"
			if !stats.LastSweep.IsZero() {
				lastSweep = stats.LastSweep.Format(time.RFC3339)
			}
			components["views"] = componentStatus{
				OK:          true,
				Controllers: &stats.Controllers,
				Live:        &stats.Live,
				Watchers:    &stats.Watchers,
				LastSweep:   lastSweep,
			}
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

// determineMode: the row store down is critical; a dead relay or Redis means
// lists still load but no longer update live.
func determineMode(components map[string]componentStatus) string {
	if pg, ok := components["postgres"]; ok && !pg.OK {
		return "critical"
	}
	for _, name := range []string{"redis", "relay"} {
		if c, ok := components[name]; ok && !c.OK {
			return "degraded"
		}
	}
	return "live"
}
