/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Seednode/aliasbox/game"
	"github.com/Seednode/aliasbox/protocol"
	"github.com/Seednode/aliasbox/signaling"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	watcherBuffer = 16
	pingInterval  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type observerFrame struct {
	Kind      string          `json:"kind"`
	Self      string          `json:"self,omitempty"`
	Session   *game.Session   `json:"session,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	RelayKind signaling.Kind  `json:"relayKind,omitempty"`
}

// observer streams this device's view of the game to local browser tabs.
type observer struct {
	cfg  *Config
	self string

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	session  []byte
	relay    []byte
}

type watcher struct {
	conn *websocket.Conn
	send chan []byte
}

func newObserver(cfg *Config, self string) *observer {
	return &observer{
		cfg:      cfg,
		self:     self,
		watchers: make(map[*watcher]struct{}),
	}
}

func (o *observer) Apply(s *game.Session) {
	data, err := json.Marshal(observerFrame{Kind: "session", Self: o.self, Session: s})
	if err != nil {
		logf(o.cfg, "SERVE: %v", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.session = data
	o.broadcast(data)
}

func (o *observer) Notify(m protocol.Message) {
	msg, err := protocol.Encode(m)
	if err != nil {
		logf(o.cfg, "SERVE: %v", err)
		return
	}
	data, err := json.Marshal(observerFrame{Kind: "notice", Message: msg})
	if err != nil {
		logf(o.cfg, "SERVE: %v", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.broadcast(data)
}

func (o *observer) relayPublished(kind signaling.Kind, _ string) {
	data, err := json.Marshal(observerFrame{Kind: "relay", RelayKind: kind})
	if err != nil {
		logf(o.cfg, "SERVE: %v", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.relay = data
	o.broadcast(data)
}

// broadcast drops watchers that cannot keep up. Callers hold mu.
func (o *observer) broadcast(data []byte) {
	for w := range o.watchers {
		select {
		case w.send <- data:
		default:
			o.drop(w)
		}
	}
}

func (o *observer) drop(w *watcher) {
	if _, ok := o.watchers[w]; !ok {
		return
	}
	delete(o.watchers, w)
	close(w.send)
}

func (o *observer) add(w *watcher) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.watchers[w] = struct{}{}
	for _, data := range [][]byte{o.relay, o.session} {
		if data != nil {
			w.send <- data
		}
	}
}

func (o *observer) remove(w *watcher) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.drop(w)
}

// Len is the number of connected tabs.
func (o *observer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.watchers)
}

func (o *observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for w := range o.watchers {
		o.drop(w)
	}
}

func (o *observer) serveWS(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SERVE: Websocket upgrade for %s failed: %v", realIP(r), err)
			return
		}

		logf(cfg, "SERVE: Observer connected from %s", realIP(r))

		c := &watcher{conn: conn, send: make(chan []byte, watcherBuffer)}
		o.add(c)

		go c.writePump()
		go o.readPump(c)
	}
}

// readPump only watches for the tab going away.
func (o *observer) readPump(w *watcher) {
	defer func() {
		o.remove(w)
		w.conn.Close()
	}()

	w.conn.SetReadLimit(512)
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *watcher) writePump() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case data, ok := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(timeout))
			if !ok {
				w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			w.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
