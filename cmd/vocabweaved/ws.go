package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocabweave/vocabweave/internal/observability"
	"github.com/vocabweave/vocabweave/internal/vocab/notify"
)

const (
	wsMaxPayloadBytes = 1 << 16
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPingInterval    = 15 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame is the client-facing wire format: a client sends {"type":
// "subscribe", "source_word": ..., "target_language": ...} to start
// receiving that word's progress events; the server never expects any
// other inbound frame type.
type wsFrame struct {
	Type           string `json:"type"`
	SourceWord     string `json:"source_word,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
}

func newWSServer(addr string, notifier *notify.Notifier, metrics *observability.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(notifier))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return &http.Server{Addr: addr, Handler: mux}
}

func wsHandler(notifier *notify.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		connectionID := uuid.NewString()
		userID := r.URL.Query().Get("user_id")
		ctx := r.Context()

		if err := notifier.Register(ctx, connectionID, userID); err != nil {
			slog.Error("websocket register failed", "error", err, "connection_id", connectionID)
			return
		}
		defer func() {
			if err := notifier.Unregister(ctx, connectionID); err != nil {
				slog.Error("websocket unregister failed", "error", err, "connection_id", connectionID)
			}
		}()

		conn.SetReadLimit(wsMaxPayloadBytes)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		stop := make(chan struct{})
		go pingLoop(conn, stop)
		defer close(stop)

		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type != "subscribe" {
				continue
			}
			if err := notifier.Subscribe(ctx, connectionID, frame.SourceWord, frame.TargetLanguage); err != nil {
				slog.Error("websocket subscribe failed", "error", err, "connection_id", connectionID)
			}
		}
	}
}

func pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
