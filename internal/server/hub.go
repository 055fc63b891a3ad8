package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crypto-market-analyzer/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Hub 把调度器的每个周期结果推送给所有 WebSocket 客户端。
// 新连接先收到当前快照：设置了快照来源时以来源为准，否则取已推送的最高代快照。
// 周期结果在锁外发布，晚到的旧快照不会再推送，也不会覆盖新连接看到的快照。
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu        sync.RWMutex
	clients   map[*client]struct{}
	source    func() *model.Snapshot
	latest    []byte // 已推送的最高代 APPLIED 更新的编码
	latestGen uint64
	closed    bool
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 展示层与服务不一定同源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With(zap.String("component", "hub")),
		clients: make(map[*client]struct{}),
	}
}

// UseSnapshots 设置当前快照的来源，通常是调度器的 Snapshot
func (h *Hub) UseSnapshots(source func() *model.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = source
}

// Publish 实现 publisher.Publisher
func (h *Hub) Publish(_ context.Context, update model.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	// 检查与发送在同一把锁内，保证推送顺序与快照替换顺序一致
	var slow []*client
	h.mu.Lock()
	if update.State == model.StateApplied {
		if h.outdated(update) {
			h.mu.Unlock()
			h.logger.Debug("Skipping outdated snapshot update", zap.Uint64("generation", update.Generation))
			return nil
		}
		if update.Generation > h.latestGen {
			h.latest, h.latestGen = payload, update.Generation
		}
	}
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
		h.unregister(c)
	}
	return nil
}

// outdated 调用方需持有 h.mu
func (h *Hub) outdated(update model.Update) bool {
	if h.source != nil {
		if current := h.source(); current != nil {
			return current.Generation != update.Generation
		}
	}
	return update.Generation < h.latestGen
}

// initial 新连接的第一条消息，调用方需持有 h.mu
func (h *Hub) initial() []byte {
	if h.source == nil {
		return h.latest
	}
	snap := h.source()
	if snap == nil {
		return nil
	}
	payload, err := json.Marshal(model.Update{
		Generation: snap.Generation,
		State:      model.StateApplied,
		Snapshot:   snap,
		Timestamp:  snap.UpdatedAt,
	})
	if err != nil {
		h.logger.Warn("Failed to encode current snapshot", zap.Error(err))
		return nil
	}
	return payload
}

// ServeWS 升级连接并注册客户端
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if payload := h.initial(); payload != nil {
		c.send <- payload
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Websocket client connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Int("clients", count))

	go c.writePump()
	go c.readPump()
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开所有客户端，之后的连接会被直接关闭
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.unregister(c)
	}
}

func (h *Hub) unregister(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
	})
}

// readPump 只用于感知断开和处理 pong，客户端消息被忽略
func (c *client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}
