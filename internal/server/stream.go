package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"switchboard/internal/hub"
)

const streamKeepAlive = 25 * time.Second

// registerStream mounts the live event stream as a raw chi route. It stays
// outside the OpenAPI surface because the response is a long-lived SSE body,
// not a JSON document.
//
// EventSource cannot set request headers, so the stream authenticates with a
// token query parameter instead of the Authorization header. The token is
// verified before the subscription is created; a rejected caller never
// occupies a hub slot.
func registerStream(router chi.Router, basePath string, h *hub.Hub, auth AuthConfig) {
	router.Get(basePath+"/stream", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
			return
		}
		p, err := verifyToken(token, auth.JWTSecret)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid token", nil))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}

		sub := h.Subscribe()
		defer sub.Close()
		auth.logger().Printf("stream opened user=%s", p.UserID)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepalive := time.NewTicker(streamKeepAlive)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, open := <-sub.Events():
				if !open {
					// The hub dropped this subscriber for lagging. There
					// is no way to resume without a gap, so close the
					// transport and let the client reconnect and re-read.
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
