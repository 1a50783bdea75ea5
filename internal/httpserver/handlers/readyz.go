package handlers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
)

const checkTimeout = 2 * time.Second

type readyzResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Readyz runs every readiness probe concurrently. Any failure yields 503.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := runChecks(r.Context(), d.Checks)

		resp := readyzResponse{Ready: true, Checks: make(map[string]string, len(results))}
		for name, err := range results {
			if err != nil {
				resp.Ready = false
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func runChecks(ctx context.Context, checks []deps.Check) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	errs := make([]error, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			errs[i] = c.Ping(ctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]error, len(checks))
	for i, c := range checks {
		out[c.Name] = errs[i]
	}
	return out
}
