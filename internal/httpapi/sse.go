package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ankittk/teamscope/pkg/models"
)

const sseKeepalive = 30 * time.Second

// SSEHandler streams envelopes as server-sent events. The first frames are
// "connected" and then initial:state.
func (h *Hub) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		// Register before building the snapshot so nothing falls in between.
		sub := h.Subscribe(ChannelSSE)
		defer h.Unsubscribe(sub)

		hello, _ := json.Marshal(map[string]string{"id": sub.ID})
		connected, _ := json.Marshal(models.Envelope{Type: models.TypeConnected, Data: hello})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", connected)
		if initial, err := h.initialFrame(); err == nil {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", initial)
		} else {
			h.log.Error("initial state", "err", err)
		}
		flusher.Flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
				flusher.Flush()
			}
		}
	}
}
