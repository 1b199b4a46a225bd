package httpapi

import (
	"fmt"
	"net/http"

	"github.com/suifx/faucet/internal/errcode"
)

// SSEHandler streams live faucet activity (dispatches, denials, health
// transitions, settings changes) to the admin dashboard over Server-Sent
// Events.
func SSEHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, errcode.ServerError, "Streaming unsupported", "")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sub := d.EventBus.Subscribe(64)
		defer d.EventBus.Unsubscribe(sub)

		// Send initial connection event.
		_, _ = fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e := <-sub.C:
				_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.JSON())
				flusher.Flush()
			}
		}
	}
}
