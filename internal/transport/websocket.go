// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	applog "asiohost/internal/log"

	"github.com/gorilla/websocket"
)

// WebSocketTransport broadcasts every sent value as JSON to all clients
// connected to /ws.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	server    *http.Server
	listener  net.Listener
	closeOnce sync.Once
	done      chan struct{}
	log       *applog.Logger
}

// NewWebSocketTransport listens on addr and starts serving. Use ":0" to pick
// a free port; Addr reports the bound address.
func NewWebSocketTransport(addr string) (*WebSocketTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	wst := &WebSocketTransport{
		addr: ln.Addr().String(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		listener:  ln,
		done:      make(chan struct{}),
		log:       applog.For("websocket"),
	}
	wst.start()
	return wst, nil
}

// Addr returns the address the server is bound to.
func (wst *WebSocketTransport) Addr() string {
	return wst.addr
}

func (wst *WebSocketTransport) start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)

	wst.server = &http.Server{Handler: mux}

	go func() {
		wst.log.Infof("serving on ws://%s/ws", wst.addr)
		if err := wst.server.Serve(wst.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.log.Errorf("server error: %v", err)
		}
	}()

	go wst.handleBroadcasts()
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Warnf("upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.log.Debugf("client connected, total: %d", n)

	go func() {
		// Clients never send; the first read error means they left.
		if _, _, err := conn.ReadMessage(); err != nil {
			wst.drop(conn)
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	if wst.clients[conn] {
		delete(wst.clients, conn)
		conn.Close()
		wst.log.Debugf("client disconnected, total: %d", len(wst.clients))
	}
}

func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				if err := client.WriteJSON(data); err != nil {
					wst.log.Debugf("error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast. When the queue is full the value is
// dropped.
func (wst *WebSocketTransport) Send(data any) error {
	if f, ok := data.(*MeterFrame); ok {
		// Frames are reused by their producer.
		c := *f
		c.Inputs = append([]float32(nil), f.Inputs...)
		c.Outputs = append([]float32(nil), f.Outputs...)
		data = &c
	}
	select {
	case wst.broadcast <- data:
	default:
	}
	return nil
}

// Close disconnects every client and shuts the server down.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		close(wst.done)

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		err = wst.server.Close()
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
