package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/bootstrap"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/logger"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/mq"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/infrastructure/adapter"
)

const (
	serviceName = "restock-gateway"
	servicePort = 8088

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	nodeID   = serviceName + "-" + uuid.New().String()[:8]
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
			return true
		},
	}
)

// Hub 按商品维护订阅连接，到货事件只推给订阅了该商品的客户端
type Hub struct {
	subscribers map[string]map[*Client]struct{} // productID -> clients
	register    chan *Client
	unregister  chan *Client
	broadcast   chan adapter.RestockEvent
	lock        sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan adapter.RestockEvent, 64),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			if h.subscribers[client.productID] == nil {
				h.subscribers[client.productID] = make(map[*Client]struct{})
			}
			h.subscribers[client.productID][client] = struct{}{}
			h.lock.Unlock()
			logger.Logger.Info().
				Str("user_id", client.userID).
				Str("product_id", client.productID).
				Str("node", nodeID).
				Msg("client subscribed")
		case client := <-h.unregister:
			h.lock.Lock()
			if clients, ok := h.subscribers[client.productID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.subscribers, client.productID)
					}
				}
			}
			h.lock.Unlock()
			logger.Logger.Info().Str("user_id", client.userID).Msg("client unsubscribed")
		case event := <-h.broadcast:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.lock.RLock()
			for client := range h.subscribers[event.ProductID] {
				select {
				case client.send <- payload:
				default:
					// 消费不过来的客户端直接丢弃本条，不阻塞广播
				}
			}
			h.lock.RUnlock()
		}
	}
}

// Client 是一条 WebSocket 连接
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	productID string
}

// writePump 把 send channel 中的消息写入连接，并定期发 ping 保活
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只消费 pong 和关闭帧，客户端不需要上行业务消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	productID := r.URL.Query().Get("productId")
	if userID == "" || productID == "" {
		http.Error(w, "userId and productId are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 16), userID: userID, productID: productID}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// consumeRestockEvents 消费到货事件并交给 Hub 广播。
// 每个网关节点使用独立消费组，保证每个节点都拿到全量事件。
func consumeRestockEvents(ctx context.Context, brokers []string, hub *Hub) {
	reader := mq.NewKafkaReader(brokers, adapter.RestockTopic, serviceName+"-"+nodeID)
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Logger.Error().Err(err).Msg("failed to read restock event")
			continue
		}
		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)

		var event adapter.RestockEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Msg("malformed restock event, skipped")
			continue
		}
		logger.Ctx(msgCtx).Info().
			Str("product_id", event.ProductID).
			Int64("quantity", event.Quantity).
			Msg("restock event received")
		hub.broadcast <- event
	}
}

func main() {
	logger.Init(serviceName)
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	hub := newHub()
	go hub.run()

	consumeCtx, stopConsume := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go consumeRestockEvents(consumeCtx, cfg.Infra.Kafka.Brokers, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	server := &http.Server{Addr: ":" + strconv.Itoa(servicePort), Handler: mux}
	go func() {
		logger.Logger.Info().Str("node", nodeID).Msgf("%s listening on :%d", serviceName, servicePort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal().Err(err).Msg("could not start http server")
		}
	}()

	<-consumeCtx.Done()
	stopConsume()
	logger.Logger.Info().Msgf("shutting down %s...", serviceName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("error shutting down http server")
	}
}
