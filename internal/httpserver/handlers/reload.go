package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

type reloadResponse struct {
	Status string `json:"status"`
}

// Reload triggers a full reload of the caller's bookmark view.
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, err := controllerFor(d, r)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		if !ctrl.RequestReload() {
			d.Logger.Debug("bookmark reload already pending",
				logger.String("owner_id", ctrl.Snapshot().OwnerID))
			writeJSON(w, http.StatusTooManyRequests, reloadResponse{Status: "reload already in progress"})
			return
		}

		writeJSON(w, http.StatusAccepted, reloadResponse{Status: "reload triggered"})
	}
}
