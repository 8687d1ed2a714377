// Package feed serves array change events over WebSocket alongside the
// metrics and health endpoints.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crystal-mush/sparsearray/pkg/events"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// Message is the JSON frame pushed to WebSocket clients.
type Message struct {
	Type  string `json:"type"`
	Scope string `json:"scope,omitempty"`
	Owner int64  `json:"owner,omitempty"`
	Name  string `json:"name,omitempty"`
	Index uint32 `json:"index"`
	Count uint32 `json:"count,omitempty"`
	Value string `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Config configures the HTTP server.
type Config struct {
	Addr        string
	CORSOrigins []string
	Metrics     http.Handler // served at /metrics when non-nil
}

// Server exposes /ws, /health and optionally /metrics.
type Server struct {
	bus       *events.Bus
	httpSrv   *http.Server
	mux       *http.ServeMux
	upgrader  websocket.Upgrader
	startTime time.Time
}

// New creates a server streaming events from bus.
func New(bus *events.Bus, cfg Config) *Server {
	s := &Server{
		bus:       bus,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.CORSOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range cfg.CORSOrigins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	if cfg.Metrics != nil {
		s.mux.Handle("/metrics", cfg.Metrics)
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	log.Printf("feed: listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleWebSocket upgrades the connection and subscribes it to the bus.
// With ?scope=S&owner=N only that namespace's events are delivered; scope
// defaults to character and owner to 0.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	topic, hasTopic, err := parseTopic(r)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("feed: websocket upgrade error: %v", err)
		return
	}

	wc := newWSConn(conn)
	go wc.writeLoop()
	wc.sendJSON(Message{Type: "welcome", Text: "streaming " + describe(topic, hasTopic)})
	if hasTopic {
		s.bus.Subscribe(topic, wc)
	} else {
		s.bus.SubscribeGlobal(wc)
	}

	go func() {
		defer func() {
			wc.close()
			if hasTopic {
				s.bus.Unsubscribe(topic, wc)
			} else {
				s.bus.UnsubscribeGlobal(wc)
			}
			conn.Close()
		}()
		s.readLoop(wc)
	}()
}

// parseTopic reads the scope and owner query parameters.
func parseTopic(r *http.Request) (events.Topic, bool, error) {
	q := r.URL.Query()
	scopeArg, ownerArg := q.Get("scope"), q.Get("owner")
	if scopeArg == "" && ownerArg == "" {
		return events.Topic{}, false, nil
	}
	ref := vars.Ref{Scope: vars.ScopeCharacter}
	if scopeArg != "" {
		scope, err := vars.ParseScope(scopeArg)
		if err != nil {
			return events.Topic{}, false, fmt.Errorf("invalid scope")
		}
		ref.Scope = scope
	}
	if ownerArg != "" {
		n, err := strconv.ParseInt(ownerArg, 10, 64)
		if err != nil {
			return events.Topic{}, false, fmt.Errorf("invalid owner")
		}
		ref.Owner = n
	}
	return ref.Topic(), true, nil
}

func describe(topic events.Topic, hasTopic bool) string {
	if hasTopic {
		return fmt.Sprintf("%s %d", topic.Scope, topic.Owner)
	}
	return "all owners"
}

// readLoop answers pings until the client goes away.
func (s *Server) readLoop(wc *wsConn) {
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("feed: read error: %v", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.sendJSON(Message{Type: "error", Text: "invalid JSON message"})
			continue
		}
		switch msg.Type {
		case "ping":
			wc.sendJSON(Message{Type: "pong"})
		default:
			wc.sendJSON(Message{Type: "error", Text: fmt.Sprintf("unknown message type: %s", msg.Type)})
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"subscribers":    s.bus.GlobalSubscribers(),
	})
}

// sendBuffer is how many frames may queue for one client before it is
// dropped as too slow.
const sendBuffer = 256

// wsConn is an events.Subscriber for one WebSocket client. Frames queue on
// send and only writeLoop touches the connection for writing, so a stalled
// client never blocks the goroutine emitting events.
type wsConn struct {
	conn   *websocket.Conn
	send   chan Message
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}
}

// sendJSON queues msg without blocking.
func (wc *wsConn) sendJSON(msg Message) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.closed {
		return
	}
	select {
	case wc.send <- msg:
	default:
		log.Printf("feed: client too slow, dropping")
		wc.closeLocked()
	}
}

// writeLoop drains the queue until the connection is closed.
func (wc *wsConn) writeLoop() {
	defer wc.conn.Close()
	for {
		select {
		case <-wc.done:
			return
		case msg := <-wc.send:
			wc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := wc.conn.WriteJSON(msg); err != nil {
				wc.close()
				return
			}
		}
	}
}

func (wc *wsConn) close() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.closeLocked()
}

func (wc *wsConn) closeLocked() {
	if !wc.closed {
		wc.closed = true
		close(wc.done)
	}
}

// Receive forwards a bus event to the client.
func (wc *wsConn) Receive(ev events.Event) {
	wc.sendJSON(Message{
		Type:  ev.Type.String(),
		Scope: ev.Scope,
		Owner: ev.Owner,
		Name:  ev.Name,
		Index: ev.Index,
		Count: ev.Count,
		Value: ev.Value,
	})
}

// Closed reports whether the connection has gone away.
func (wc *wsConn) Closed() bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.closed
}
