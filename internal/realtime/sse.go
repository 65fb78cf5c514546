package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"servicedesk/internal/fanout"
)

// Events serves GET /events?channel=<kind>:<id>, repeatable, as a
// Server-Sent Events stream.
func (s *Server) Events() http.Handler {
	return http.HandlerFunc(s.serveEvents)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	raw := r.URL.Query()["channel"]
	if len(raw) == 0 {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}
	channels := make([]fanout.Channel, 0, len(raw))
	for _, value := range raw {
		channel, err := fanout.ParseChannel(value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		channels = append(channels, channel)
	}

	identity, ok := s.identify(r)
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	for _, channel := range channels {
		if isAllowed(channel, identity) {
			continue
		}
		if identity == nil {
			http.Error(w, "token required", http.StatusUnauthorized)
		} else {
			http.Error(w, "access denied", http.StatusForbidden)
		}
		return
	}

	client := fanout.NewClient(uuid.NewString(), 16)
	s.hub.Register(client)
	defer s.hub.Unregister(client)
	names := make([]string, 0, len(channels))
	for _, channel := range channels {
		s.hub.Subscribe(client, channel)
		names = append(names, channel.String())
	}

	clearDeadlines(w)
	setupSSEHeaders(w)
	connected, _ := json.Marshal(map[string]any{"status": "connected", "channels": names})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	ctx := r.Context()
	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: ticket\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
