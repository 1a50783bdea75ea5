package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/utils"
)

const (
	writeWait          = 10 * time.Second
	defaultPingEvery   = 30 * time.Second
	maxClientFrameSize = 512
)

// Stream pushes the caller's bookmark view over a websocket on every change.
func Stream(d deps.Deps) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     sameOrigin(d.PublicURL),
	}
	pingEvery := d.StreamPingInterval
	if pingEvery <= 0 {
		pingEvery = defaultPingEvery
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, err := controllerFor(d, r)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			d.Logger.Debug("websocket upgrade failed", logger.Error(err))
			return
		}
		defer utils.CloseLogged(conn, d.Logger, "websocket")

		l := d.Logger.With(logger.String("owner_id", ctrl.Snapshot().OwnerID))
		l.Debug("bookmark stream opened")

		views, stop := ctrl.Watch()
		defer stop()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Clients only send control frames; reading keeps pongs flowing and
		// notices when the peer goes away.
		conn.SetReadLimit(maxClientFrameSize)
		_ = conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
		})
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				l.Debug("bookmark stream closed by client")
				return
			case view, ok := <-views:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "view closed"),
						time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(view); err != nil {
					l.Debug("failed to write bookmark view", logger.Error(err))
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					l.Debug("failed to ping stream client", logger.Error(err))
					return
				}
			}
		}
	}
}

// sameOrigin accepts requests without an Origin header, from the request's
// own host, or from the configured public URL.
func sameOrigin(publicURL string) func(r *http.Request) bool {
	var publicHost string
	if u, err := url.Parse(publicURL); err == nil {
		publicHost = strings.ToLower(u.Host)
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(u.Host)
		return host == strings.ToLower(r.Host) || (publicHost != "" && host == publicHost)
	}
}
