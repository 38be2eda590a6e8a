package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const clientBuffer = 16

// Handler serves display boards over SockJS under prefix. Clients start
// subscribed and may send {"action":"unsubscribe"} or {"action":"subscribe"}.
func (h *Hub) Handler(prefix string) http.Handler {
	sessions := sockjs.NewHandler(prefix, sockjs.DefaultOptions, h.serveSession)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Streaming transports outlive the server write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
		sessions.ServeHTTP(w, r)
	})
}

func (h *Hub) serveSession(session sockjs.Session) {
	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, clientBuffer)}
	h.Register(client)
	defer h.Unregister(client)
	h.Subscribe(client, true)

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	logger := h.logger.WithField("client_id", client.ID)
	logger.Debug("board connected")
	defer logger.Debug("board disconnected")

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		h.Subscribe(client, parsed.Action == "subscribe")
	}
}
