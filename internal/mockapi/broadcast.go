package mockapi

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) close() {
	close(c.send)
}

// outgoing is the wire form of a push-channel frame.
type outgoing struct {
	Type    client.MessageType    `json:"type"`
	Seq     uint64                `json:"seq"`
	Payload client.MetricsPayload `json:"payload"`
}

// Broadcaster fans metric frames out to the push-channel clients of each test.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]bool
	logger  *log.Logger
}

func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]map[*wsClient]bool),
		logger:  logger,
	}
}

func (b *Broadcaster) AddClient(testID string, conn *websocket.Conn) *wsClient {
	c := newWSClient(conn)

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.clients[testID]
	if !ok {
		set = make(map[*wsClient]bool)
		b.clients[testID] = set
	}
	set[c] = true
	return c
}

func (b *Broadcaster) RemoveClient(testID string, c *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.clients[testID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	c.close()
	if len(set) == 0 {
		delete(b.clients, testID)
	}
}

// CloseTest disconnects every client of testID.
func (b *Broadcaster) CloseTest(testID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients[testID] {
		c.close()
	}
	delete(b.clients, testID)
}

// Publish sends one metrics frame to every client of testID. Clients that
// cannot keep up are disconnected.
func (b *Broadcaster) Publish(testID string, seq uint64, payload client.MetricsPayload) {
	data, err := json.Marshal(outgoing{Type: client.MsgMetrics, Seq: seq, Payload: payload})
	if err != nil {
		b.logger.Error("broadcast marshal error", "err", err)
		return
	}

	// Sends happen under the read lock so no client is closed mid-send.
	var slow []*wsClient
	b.mu.RLock()
	for c := range b.clients[testID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("ws client too slow, disconnecting", "test_id", testID)
		b.RemoveClient(testID, c)
	}
}

func (b *Broadcaster) ClientCount(testID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[testID])
}
