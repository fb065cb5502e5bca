package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"ms-events/internal/logger"
	"ms-events/internal/models"

	"github.com/google/uuid"
)

const sendBuffer = 16

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// Broker carries room payloads between server instances.
type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// Connection is one subscribed client. Frames are dropped when its buffer is full.
type Connection struct {
	ID    string
	hub   *Hub
	send  chan Frame
	rooms map[string]struct{}
}

func (c *Connection) Frames() <-chan Frame {
	return c.send
}

func (c *Connection) Join(room string) bool {
	return c.hub.join(c, room)
}

func (c *Connection) Leave(room string) bool {
	return c.hub.leave(c, room)
}

func (c *Connection) Rooms() []string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Hub fans notifications out to the connections in each room.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	rooms  map[string]map[string]*Connection
	broker Broker
	logger *logger.Logger
	onSize func(connections int)
	closed bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*Connection),
		rooms:  make(map[string]map[string]*Connection),
		logger: log,
	}
}

// SetBroker routes Publish through b instead of local delivery.
func (h *Hub) SetBroker(b Broker) {
	h.mu.Lock()
	h.broker = b
	h.mu.Unlock()
}

// OnConnectionCount is called with the live connection count after every change.
func (h *Hub) OnConnectionCount(fn func(connections int)) {
	h.mu.Lock()
	h.onSize = fn
	h.mu.Unlock()
}

// Connect registers a connection that lives until ctx is done.
func (h *Hub) Connect(ctx context.Context) *Connection {
	conn := &Connection{
		ID:    uuid.New().String(),
		hub:   h,
		send:  make(chan Frame, sendBuffer),
		rooms: make(map[string]struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(conn.send)
		return conn
	}
	h.conns[conn.ID] = conn
	count := len(h.conns)
	onSize := h.onSize
	h.mu.Unlock()
	if onSize != nil {
		onSize(count)
	}

	go func() {
		<-ctx.Done()
		h.disconnect(conn)
	}()

	return conn
}

func (h *Hub) Connection(id string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[id]
	return conn, ok
}

// Close ends every open connection and refuses new ones. Streams see their
// frame channel closed and return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.disconnect(conn)
	}
}

func (h *Hub) disconnect(conn *Connection) {
	h.mu.Lock()
	if _, ok := h.conns[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for room := range conn.rooms {
		h.removeFromRoom(room, conn)
	}
	delete(h.conns, conn.ID)
	close(conn.send)
	count := len(h.conns)
	onSize := h.onSize
	h.mu.Unlock()

	if onSize != nil {
		onSize(count)
	}
	h.logger.LogRealtime("DISCONNECT", conn.ID, "connection closed")
}

func (h *Hub) join(conn *Connection, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Connection)
	}
	h.rooms[room][conn.ID] = conn
	conn.rooms[room] = struct{}{}
	h.trySend(conn, Frame{Event: "joined", Data: roomAck(room)})
	return true
}

func (h *Hub) leave(conn *Connection, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return false
	}
	if _, ok := conn.rooms[room]; !ok {
		return false
	}
	h.removeFromRoom(room, conn)
	h.trySend(conn, Frame{Event: "left", Data: roomAck(room)})
	return true
}

// removeFromRoom requires h.mu held for writing.
func (h *Hub) removeFromRoom(room string, conn *Connection) {
	delete(conn.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// trySend requires h.mu held; a closed connection is never in h.conns.
func (h *Hub) trySend(conn *Connection, frame Frame) bool {
	select {
	case conn.send <- frame:
		return true
	default:
		return false
	}
}

// PublishNotification sends n to the room named by its event id.
func (h *Hub) PublishNotification(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return h.Publish(ctx, n.EventID, payload)
}

// Publish goes through the broker when one is set and falls back to local
// delivery if the broker fails.
func (h *Hub) Publish(ctx context.Context, room string, payload []byte) error {
	h.mu.RLock()
	broker := h.broker
	h.mu.RUnlock()

	if broker != nil {
		err := broker.Publish(ctx, room, payload)
		if err == nil {
			return nil
		}
		h.logger.Warn("REALTIME", fmt.Sprintf("Broker publish to %s failed, delivering locally: %v", room, err))
		h.Deliver(room, payload)
		return err
	}

	h.Deliver(room, payload)
	return nil
}

// Deliver pushes payload to every local connection in room and returns how
// many accepted it.
func (h *Hub) Deliver(room string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, conn := range h.rooms[room] {
		if h.trySend(conn, Frame{Event: "notification", Data: payload}) {
			delivered++
		} else {
			h.logger.LogRealtime("DROP", room, fmt.Sprintf("buffer full for %s", conn.ID))
		}
	}
	return delivered
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func roomAck(room string) []byte {
	b, _ := json.Marshal(map[string]string{"eventId": room})
	return b
}
