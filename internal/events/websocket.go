package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultWriteWait = 5 * time.Second

// WebsocketHandler forwards bus events to websocket clients as JSON text
// frames. Only payloads of the configured topics are sent.
type WebsocketHandler struct {
	Bus       *Bus
	Topics    []string
	WriteWait time.Duration
	Logger    zerolog.Logger

	upgrader websocket.Upgrader
}

// NewWebsocketHandler builds a handler that forwards topics.
func NewWebsocketHandler(bus *Bus, topics []string, log zerolog.Logger) *WebsocketHandler {
	return &WebsocketHandler{
		Bus:       bus,
		Topics:    topics,
		WriteWait: defaultWriteWait,
		Logger:    log.With().Str("component", "events_ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local daemon; browsers on other origins may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	wait := h.WriteWait
	if wait <= 0 {
		wait = defaultWriteWait
	}

	var (
		once   sync.Once
		mu     sync.Mutex
		unsubs []func()
	)
	closeConn := func() {
		once.Do(func() {
			mu.Lock()
			for _, u := range unsubs {
				u()
			}
			mu.Unlock()
			_ = conn.Close()
		})
	}

	forward := func(ev Event) {
		msg, err := json.Marshal(ev.Payload)
		if err != nil {
			h.Logger.Warn().Err(err).Str("topic", ev.Topic).Msg("cannot encode event")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.Logger.Debug().Err(err).Msg("websocket write failed; dropping subscriber")
			closeConn()
		}
	}
	mu.Lock()
	for _, topic := range h.Topics {
		unsubs = append(unsubs, h.Bus.Subscribe(topic, forward))
	}
	mu.Unlock()
	h.Logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket subscriber connected")

	// Reads only to observe the close handshake.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	closeConn()
	h.Logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket subscriber disconnected")
}
