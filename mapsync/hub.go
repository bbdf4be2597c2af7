package mapsync

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aura-monitor/geo"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Op одна операция карты, отправляемая браузеру
type Op struct {
	Op      string     `json:"op"`
	ID      MarkerID   `json:"id,omitempty"`
	At      *geo.Point `json:"at,omitempty"`
	Zoom    int        `json:"zoom,omitempty"`
	RadiusM float64    `json:"radius_m,omitempty"`
	Color   string     `json:"color,omitempty"`
}

// Hub реализует Surface для браузерных карт через websocket.
// Новому клиенту сначала отправляется текущее состояние карты.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	open    *Op
	markers map[MarkerID]geo.Point
	order   []MarkerID
	circle  *Op
}

// NewHub создает пустой хаб
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		markers: make(map[MarkerID]geo.Point),
	}
}

// ServeHTTP подключает браузерного клиента
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("ws upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	for _, op := range h.replayLocked() {
		if err := writeOp(conn, op); err != nil {
			h.mu.Unlock()
			conn.Close()
			return
		}
	}
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readPump(conn)
}

// Clients возвращает число подключенных клиентов
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) readPump(c *websocket.Conn) {
	defer func() {
		h.remove(c)
		c.Close()
	}()
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func writeOp(c *websocket.Conn, op Op) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.TextMessage, data)
}

// broadcastLocked рассылает op всем клиентам; вызывается под h.mu
func (h *Hub) broadcastLocked(op Op) {
	for c := range h.clients {
		if err := writeOp(c, op); err != nil {
			c.Close()
			delete(h.clients, c)
		}
	}
}

// replayLocked восстанавливает текущее состояние карты в виде операций
func (h *Hub) replayLocked() []Op {
	if h.open == nil {
		return nil
	}
	ops := []Op{*h.open}
	for _, id := range h.order {
		at := h.markers[id]
		ops = append(ops, Op{Op: "place_marker", ID: id, At: &at})
	}
	if h.circle != nil {
		ops = append(ops, *h.circle)
	}
	return ops
}

func (h *Hub) Open(center geo.Point, zoom int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	op := Op{Op: "open", At: &center, Zoom: zoom}
	h.open = &op
	h.broadcastLocked(op)
	return nil
}

func (h *Hub) PlaceMarker(id MarkerID, at geo.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.markers[id]; !ok {
		h.order = append(h.order, id)
	}
	h.markers[id] = at
	h.broadcastLocked(Op{Op: "place_marker", ID: id, At: &at})
	return nil
}

func (h *Hub) MoveMarker(id MarkerID, at geo.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.markers[id] = at
	h.broadcastLocked(Op{Op: "move_marker", ID: id, At: &at})
	return nil
}

func (h *Hub) DrawCircle(center geo.Point, radiusM float64, color string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	op := Op{Op: "draw_circle", At: &center, RadiusM: radiusM, Color: color}
	h.circle = &op
	h.broadcastLocked(op)
	return nil
}

func (h *Hub) MoveCircle(center geo.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.circle != nil {
		h.circle.At = &center
	}
	h.broadcastLocked(Op{Op: "move_circle", At: &center})
	return nil
}

func (h *Hub) RecolorCircle(color string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.circle != nil {
		h.circle.Color = color
	}
	h.broadcastLocked(Op{Op: "recolor_circle", Color: color})
	return nil
}

func (h *Hub) Recenter(center geo.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open != nil {
		h.open.At = &center
	}
	h.broadcastLocked(Op{Op: "recenter", At: &center})
	return nil
}

// Release сбрасывает состояние и отключает клиентов
func (h *Hub) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(Op{Op: "release"})
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
	h.open = nil
	h.circle = nil
	h.markers = make(map[MarkerID]geo.Point)
	h.order = nil
	return nil
}
