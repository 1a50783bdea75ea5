package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/mw"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/mirror"
	"github.com/MrSnakeDoc/shelf/internal/sources/homepage"
)

const maxCreateBody = 16 << 10

type createRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type importResponse struct {
	ImportedCount int                `json:"imported_count"`
	SkippedCount  int                `json:"skipped_count"`
	Imported      []domain.Bookmark  `json:"imported"`
	Skipped       []homepage.Skipped `json:"skipped"`
}

// controllerFor returns the caller's activated bookmark view.
func controllerFor(d deps.Deps, r *http.Request) (*mirror.Controller, error) {
	identity, ok := mw.Identity(r.Context())
	if !ok {
		return nil, &domain.AuthError{Reason: "no session"}
	}
	return d.Registry.Acquire(mw.SessionID(r.Context()), identity)
}

// ListBookmarks returns the bookmark view once the initial load is done.
func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, err := controllerFor(d, r)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		view, err := ctrl.Await(r.Context())
		if errors.Is(err, mirror.ErrClosed) {
			err = &domain.AuthError{Reason: "session ended", Err: err}
		}
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		// Signed out (or switched owner) while the load was in flight.
		if identity, _ := mw.Identity(r.Context()); view.Status == mirror.StatusIdle || view.OwnerID != identity.ID {
			writeError(w, d.Logger, &domain.AuthError{Reason: "session ended"})
			return
		}

		status := http.StatusOK
		if view.Status == mirror.StatusFailed {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, view)
	}
}

// CreateBookmark validates and stores a bookmark.
func CreateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
			return
		}

		ctrl, err := controllerFor(d, r)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		b, err := ctrl.Create(r.Context(), req.URL, req.Title)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

// DeleteBookmark deletes a bookmark. Unknown or foreign ids succeed too.
func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, err := controllerFor(d, r)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		if err := ctrl.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ImportBookmarks creates bookmarks from a Homepage bookmarks.yaml body.
func ImportBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.ImportMaxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "document too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
			return
		}

		ctrl, err := controllerFor(d, r)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		res, err := homepage.Import(r.Context(), ctrl, data, d.MaxImportEntries)
		if err != nil {
			if len(res.Imported) == 0 {
				writeError(w, d.Logger, err)
				return
			}
			// Partial import: report what made it.
			d.Logger.Warn("bookmark import stopped early",
				logger.Int("imported", len(res.Imported)),
				logger.Error(err))
		}

		d.Logger.Info("bookmarks imported",
			logger.String("owner_id", ctrl.Snapshot().OwnerID),
			logger.Int("imported", len(res.Imported)),
			logger.Int("skipped", len(res.Skipped)))

		writeJSON(w, http.StatusOK, importResponse{
			ImportedCount: len(res.Imported),
			SkippedCount:  len(res.Skipped),
			Imported:      res.Imported,
			Skipped:       res.Skipped,
		})
	}
}
