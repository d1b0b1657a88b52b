// Read-only status server
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package monitor serves the host's live state over HTTP and
// WebSocket so a bench dashboard can watch a run without joining the
// control link. The surface is strictly read-only: client frames are
// drained and discarded, and a monitor can never command the motor.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/log"
	"parmco-go-migration/pkg/pool"
	"parmco-go-migration/pkg/session"
)

const (
	// writeWait bounds one WebSocket write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before its
	// connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be under pongWait.
	pingPeriod = 30 * time.Second

	// maxMessageSize bounds inbound frames; clients have nothing to
	// say on this surface.
	maxMessageSize = 512

	// sendQueueLen is the per-client send buffer. A client that falls
	// this far behind starts losing updates, not the connection.
	sendQueueLen = 64
)

// SnapshotSource provides the live session view pushed to clients.
type SnapshotSource interface {
	GetSnapshot() session.Snapshot
}

// statusUpdate is the message broadcast to WebSocket clients.
type statusUpdate struct {
	Event     string           `json:"event"`
	Eventtime float64          `json:"eventtime"`
	Status    session.Snapshot `json:"status"`
}

// Server is the monitor endpoint. It broadcasts the session snapshot
// to WebSocket clients on a fixed period and composes a one-shot
// status document from registered sections on demand.
type Server struct {
	src    SnapshotSource
	addr   string
	period time.Duration

	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// Status document sections contributed by other subsystems.
	sections  map[string]func() map[string]any
	sectionMu sync.RWMutex

	logger    *log.Logger
	running   atomic.Bool
	startTime time.Time
}

// New creates a monitor server reading from src.
func New(cfg config.MonitorConfig, src SnapshotSource) *Server {
	s := &Server{
		src:       src,
		addr:      cfg.Addr,
		period:    cfg.Period,
		wsClients: make(map[int64]*wsClient),
		sections:  make(map[string]func() map[string]any),
		logger:    log.GetLogger("monitor"),
		startTime: time.Now(),
	}

	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// The monitor rides on the closed bench network.
			return true
		},
	}

	return s
}

// AddSection registers a named contributor to the /status document.
func (s *Server) AddSection(name string, fn func() map[string]any) {
	s.sectionMu.Lock()
	s.sections[name] = fn
	s.sectionMu.Unlock()
}

// Start serves until Stop is called. It blocks; run it on its own
// goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.corsMiddleware(mux),
	}

	s.running.Store(true)
	s.logger.WithField("addr", s.addr).Info("monitor server starting")

	go s.broadcastLoop()

	return s.httpServer.ListenAndServe()
}

// Stop closes the server and every connected client.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) eventtime() float64 {
	return time.Since(s.startTime).Seconds()
}

// handleStatus serves the composed one-shot status document.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doc := pool.GetStatusMap()
	defer pool.PutStatusMap(doc)

	doc["eventtime"] = s.eventtime()
	doc["session"] = s.src.GetSnapshot()
	doc["monitor"] = map[string]any{
		"ws_clients": s.ClientCount(),
	}

	s.sectionMu.RLock()
	for name, fn := range s.sections {
		doc[name] = fn()
	}
	s.sectionMu.RUnlock()

	s.writeJSON(w, doc)
}

// corsMiddleware lets browser dashboards on other origins read the
// surface.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// wsClient is one WebSocket subscriber.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan statusUpdate
	done   chan struct{}
	mu     sync.Mutex
}

func (s *Server) newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:     atomic.AddInt64(&s.nextWSID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan statusUpdate, sendQueueLen),
		done:   make(chan struct{}),
	}
}

// send queues msg for the client, dropping it when the client is too
// far behind.
func (c *wsClient) send(msg statusUpdate) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.logger.WithField("client", c.id).Debug("dropping update, client behind")
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

// readPump drains inbound frames until the connection dies. Frame
// content is discarded; this surface takes no input.
func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

// writePump feeds queued updates and pings to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleWebSocket upgrades the connection and serves it until the
// client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := s.newWSClient(conn)

	s.wsClientMu.Lock()
	s.wsClients[client.id] = client
	s.wsClientMu.Unlock()

	s.logger.WithFields(log.Fields{
		"client": client.id,
		"remote": r.RemoteAddr,
	}).Info("monitor client connected")

	go client.writePump()

	// Immediate first update so the client need not wait one period.
	client.send(statusUpdate{
		Event:     "status_update",
		Eventtime: s.eventtime(),
		Status:    s.src.GetSnapshot(),
	})

	client.readPump()
}

func (s *Server) removeClient(client *wsClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, client.id)
	s.wsClientMu.Unlock()

	s.logger.WithField("client", client.id).Info("monitor client disconnected")
}

// broadcastLoop pushes the session snapshot to every client on the
// configured period.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		s.broadcastSnapshot()
	}
}

func (s *Server) broadcastSnapshot() {
	msg := statusUpdate{
		Event:     "status_update",
		Eventtime: s.eventtime(),
		Status:    s.src.GetSnapshot(),
	}

	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		client.send(msg)
	}
}
