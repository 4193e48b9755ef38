// Package feed streams committed ledger transactions to WebSocket
// subscribers.
package feed

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/observability"
)

const (
	// sendBuffer is the per-subscriber frame queue. A subscriber that
	// falls this far behind starts losing frames.
	sendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Frame is the wire shape of one committed transaction.
type Frame struct {
	Index     uint64 `json:"index"`
	Timestamp int64  `json:"timestamp"`
	Op        string `json:"op"`
	TokenID   uint64 `json:"token_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Memo      []byte `json:"memo,omitempty"`
}

func frameOf(tx domain.Transaction) Frame {
	frame := Frame{
		Index:     tx.Index,
		Timestamp: tx.Timestamp,
		Op:        tx.Op,
		TokenID:   tx.TokenID,
		Memo:      tx.Memo,
	}
	if tx.From != nil {
		frame.From = tx.From.String()
	}
	if tx.To != nil {
		frame.To = tx.To.String()
	}
	return frame
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans committed transactions out to connected subscribers. Publish
// never blocks the engine: slow subscribers lose frames instead.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]bool

	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stdout, "[feed] ", log.LstdFlags)
	}
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Publish broadcasts one committed transaction to every subscriber.
func (h *Hub) Publish(tx domain.Transaction) {
	payload, err := json.Marshal(frameOf(tx))
	if err != nil {
		h.logger.Printf("marshal frame: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- payload:
		default:
			observability.RecordFeedDrop()
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request and serves the subscriber until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade: %v", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(sub)

	go h.writePump(sub)
	h.readPump(sub)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = true
	n := len(h.subscribers)
	h.mu.Unlock()
	observability.SetFeedSubscribers(n)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	n := len(h.subscribers)
	h.mu.Unlock()
	observability.SetFeedSubscribers(n)
}

// readPump discards inbound frames; the feed is one-way. It exists to
// notice disconnects and answer pings.
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		h.remove(sub)
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Printf("subscriber read: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
