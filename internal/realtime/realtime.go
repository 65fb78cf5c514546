// Package realtime serves fanout channels to browsers over SockJS and
// Server-Sent Events.
package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"

	"servicedesk/internal/auth"
	"servicedesk/internal/fanout"
	"servicedesk/internal/logging"
)

const (
	closeInvalidToken = 4002
	closeAccessDenied = 4003
)

type TokenParser interface {
	Parse(raw string) (auth.Identity, error)
}

type Server struct {
	hub       *fanout.Hub
	tokens    TokenParser
	logger    *logging.Logger
	keepAlive time.Duration
}

func NewServer(hub *fanout.Hub, tokens TokenParser, logger *logging.Logger) *Server {
	return &Server{hub: hub, tokens: tokens, logger: logger, keepAlive: 15 * time.Second}
}

// identify returns the staff identity behind the request. A request without
// a token is anonymous; a request with a bad token is rejected.
func (s *Server) identify(r *http.Request) (*auth.Identity, bool) {
	raw := auth.TokenFromRequest(r)
	if raw == "" {
		return nil, true
	}
	identity, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, false
	}
	return &identity, true
}

// isAllowed gates subscriptions. A ticket channel is the kiosk's own view
// and stays anonymous; a service line needs a staff identity.
func isAllowed(channel fanout.Channel, identity *auth.Identity) bool {
	switch channel.Kind() {
	case fanout.KindTicket:
		return true
	case fanout.KindService:
		return identity != nil && identity.Role.Allows(auth.RoleCustomerService)
	default:
		return false
	}
}

// SockJS serves the /realtime endpoint. Clients send subscribe and
// unsubscribe frames and receive every event of their channels.
func (s *Server) SockJS() http.Handler {
	handler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, s.serveSession)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clearDeadlines(w)
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) serveSession(session sockjs.Session) {
	identity, ok := s.identify(session.Request())
	if !ok {
		_ = session.Close(closeInvalidToken, "invalid token")
		return
	}

	client := fanout.NewClient(uuid.NewString(), 16)
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, channel, ok := fanout.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			s.hub.Unsubscribe(client, channel)
			continue
		}
		if !isAllowed(channel, identity) {
			_ = session.Close(closeAccessDenied, "access denied")
			return
		}
		s.hub.Subscribe(client, channel)
		s.logger.Debugf("realtime", "client %s subscribed to %s", client.ID, channel)
	}
}

// clearDeadlines lifts the server's write timeout for long-lived streams.
func clearDeadlines(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})
}
