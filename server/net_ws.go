package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 断线原因（随 disconnect 事件写入日志）
const (
	ReasonClientDisconnect = "client namespace disconnect"
	ReasonTransportClose   = "transport close"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportError   = "transport error"
	ReasonServerShutdown   = "server shutting down"
)

// ClientConn 一个 websocket 连接：读泵把帧转成事件送入大厅，写泵负责发送
type ClientConn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter // nil 表示不限速

	done      chan struct{}
	closeOnce sync.Once
}

// NewClientConn 分配唯一连接 id
func NewClientConn(ws *websocket.Conn, sendBuffer int, limit RateLimitConfig) *ClientConn {
	var limiter *rate.Limiter
	if limit.Enabled {
		limiter = rate.NewLimiter(rate.Limit(limit.PerSecond), limit.Burst)
	}
	return &ClientConn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

// ID 连接 id，连接存续期间不变
func (c *ClientConn) ID() string { return c.id }

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 关闭底层连接，可重复调用
func (c *ClientConn) Close() {
	c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode 发送 close 帧后关闭连接
func (c *ClientConn) CloseWithCode(code int, text string) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, text)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

// allow 入站限速
func (c *ClientConn) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Transport websocket 接入层：升级连接、维护读写泵，并把连接生命周期转成大厅事件
type Transport struct {
	lobby   *Lobby
	cfg     WSConfig
	limit   RateLimitConfig
	metrics *Metrics
	log     *zap.SugaredLogger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*ClientConn
	closing atomic.Bool
}

// NewTransport 创建接入层
func NewTransport(lobby *Lobby, cfg WSConfig, limit RateLimitConfig, metrics *Metrics, log *zap.SugaredLogger) *Transport {
	return &Transport{
		lobby:   lobby,
		cfg:     cfg,
		limit:   limit,
		metrics: metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		clients: make(map[string]*ClientConn),
	}
}

// HandleWS WebSocket 接入：GET /ws
func (t *Transport) HandleWS(w http.ResponseWriter, r *http.Request) {
	if t.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := NewClientConn(ws, t.cfg.SendBuffer, t.limit)
	t.track(c)
	go c.writePump(t)

	// connect 必须先于该连接的任何入站事件进入大厅
	if err := t.lobby.Submit(r.Context(), Inbound{Name: eventConnect, ConnID: c.id, Peer: c}); err != nil {
		t.log.Warnw("lobby rejected connection", "conn", c.id, "error", err)
		t.untrack(c)
		c.CloseWithCode(websocket.CloseGoingAway, ReasonServerShutdown)
		return
	}
	go c.readPump(t)
}

// Close 关闭所有连接；之后的读泵退出都以 ReasonServerShutdown 上报
func (t *Transport) Close() {
	t.closing.Store(true)
	t.mu.Lock()
	clients := make([]*ClientConn, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()
	for _, c := range clients {
		c.CloseWithCode(websocket.CloseGoingAway, ReasonServerShutdown)
	}
}

func (t *Transport) track(c *ClientConn) {
	t.mu.Lock()
	t.clients[c.id] = c
	t.mu.Unlock()
}

func (t *Transport) untrack(c *ClientConn) {
	t.mu.Lock()
	delete(t.clients, c.id)
	t.mu.Unlock()
}

// readPump 读取客户端帧，转换为事件注入大厅
// 无论以何种方式退出，都恰好上报一次 disconnect
func (c *ClientConn) readPump(t *Transport) {
	var readErr error
	defer func() {
		t.untrack(c)
		c.Close()
		reason := disconnectReason(readErr, t.closing.Load())
		// 使用 Background：disconnect 不能因为请求上下文结束而丢失
		if err := t.lobby.Submit(context.Background(), Inbound{Name: eventDisconnect, ConnID: c.id, Reason: reason}); err != nil {
			t.log.Debugw("disconnect not delivered", "conn", c.id, "reason", reason, "error", err)
		}
	}()

	c.ws.SetReadLimit(t.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})

	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.log.Debugw("websocket read error", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(t.cfg.PongWait))

		if mt != websocket.TextMessage {
			continue
		}
		if !c.allow() {
			t.metrics.IncDropped(dropRateLimited)
			t.log.Debugw("rate limited, frame dropped", "conn", c.id)
			continue
		}
		name, data, err := parseEnvelope(payload)
		if err != nil {
			t.metrics.IncDropped(dropInvalidEnvelope)
			t.log.Debugw("invalid frame dropped", "conn", c.id, "error", err)
			continue
		}
		if err := t.lobby.Submit(context.Background(), Inbound{Name: name, ConnID: c.id, Data: data}); err != nil {
			readErr = err
			return
		}
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump(t *Transport) {
	ticker := time.NewTicker(t.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.log.Debugw("websocket write failed", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// disconnectReason 把读错误映射成断线原因
func disconnectReason(err error, shuttingDown bool) string {
	if shuttingDown || errors.Is(err, ErrLobbyClosed) {
		return ReasonServerShutdown
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return ReasonClientDisconnect
		default:
			return ReasonTransportClose
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransportError
}

// checkOrigin allowed 含 "*" 时允许所有来源；没有 Origin 头的非浏览器客户端始终放行
func checkOrigin(allowed []string) func(r *http.Request) bool {
	allowAll := false
	hosts := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
			continue
		}
		hosts[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
