package server

import (
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// PositionUpdate 移动广播载荷
type PositionUpdate struct {
	ConnectionID string  `json:"connectionId"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Flip         bool    `json:"flip"`
}

// ChatMessage 聊天广播载荷
type ChatMessage struct {
	ConnectionID string `json:"connectionId"`
	Text         string `json:"text"`
	TS           int64  `json:"ts"` // unix 毫秒
	Character    string `json:"character"`
	Rarity       string `json:"rarity"`
}

// Router 把一条入站事件分派给对应 handler
// 只在大厅事件循环里调用：同一时刻最多一个 handler 在执行
type Router struct {
	registry *Registry
	fanout   *Fanout
	metrics  *Metrics
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewRouter 创建路由器
func NewRouter(reg *Registry, fanout *Fanout, metrics *Metrics, log *zap.SugaredLogger) *Router {
	return &Router{
		registry: reg,
		fanout:   fanout,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// Dispatch 处理一条事件；handler 内的 panic 在这里被拦截，连接保持打开
func (rt *Router) Dispatch(ev Inbound) {
	name := metricName(ev.Name)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			rt.metrics.IncPanic()
			rt.log.Errorw("event handler panic",
				"event", ev.Name, "conn", ev.ConnID, "panic", rec, "stack", string(debug.Stack()))
		}
		rt.metrics.ObserveEvent(name, time.Since(start))
		rt.metrics.SetOnline(rt.registry.Connections(), rt.registry.Len())
	}()
	rt.metrics.IncEvent(name)

	switch ev.Name {
	case eventConnect:
		rt.handleConnect(ev)
	case EventJoin:
		rt.handleJoin(ev)
	case EventMove:
		rt.handleMove(ev)
	case EventChat:
		rt.handleChat(ev)
	case eventDisconnect:
		rt.handleDisconnect(ev)
	default:
		rt.metrics.IncDropped(dropUnknownEvent)
		rt.log.Debugw("unknown event ignored", "event", ev.Name, "conn", ev.ConnID)
	}
}

func (rt *Router) handleConnect(ev Inbound) {
	if ev.Peer == nil {
		return
	}
	rt.registry.Attach(ev.Peer)
	rt.log.Infow("connected", "conn", ev.Peer.ID())
	rt.fanout.ToSelf(ev.Peer, EventConnectionID, ev.Peer.ID())
}

// handleJoin 先给自己发完整快照，再通知其他人，保证自己不会收到自己的 new_player
func (rt *Router) handleJoin(ev Inbound) {
	self, ok := rt.registry.Peer(ev.ConnID)
	if !ok {
		// 连接已断开（或从未建立），不能留下孤儿条目
		rt.metrics.IncDropped(dropNotJoined)
		rt.log.Debugw("join from unknown connection ignored", "conn", ev.ConnID)
		return
	}
	in, err := decodeJoin(ev.Data)
	if err != nil {
		rt.metrics.IncDropped(dropDecode)
		rt.log.Warnw("invalid join payload", "conn", ev.ConnID, "error", err)
		return
	}

	p := rt.registry.Upsert(ev.ConnID, in, rt.now())
	rt.log.Infow("player joined",
		"conn", p.ConnectionID, "character", p.Character, "rarity", p.Rarity, "x", p.X, "y", p.Y)

	rt.fanout.ToSelf(self, EventLobbySnapshot, rt.registry.List())
	rt.fanout.ToAllExcept(ev.ConnID, EventNewPlayer, p)
}

func (rt *Router) handleMove(ev Inbound) {
	if _, ok := rt.registry.Get(ev.ConnID); !ok {
		rt.metrics.IncDropped(dropNotJoined)
		return
	}
	in, err := decodeMove(ev.Data)
	if err != nil {
		rt.metrics.IncDropped(dropDecode)
		rt.log.Debugw("invalid move payload", "conn", ev.ConnID, "error", err)
		return
	}

	p, _ := rt.registry.Update(ev.ConnID, in, rt.now())
	rt.fanout.ToAllExcept(ev.ConnID, EventPositionUpdate, PositionUpdate{
		ConnectionID: p.ConnectionID,
		X:            p.X,
		Y:            p.Y,
		Flip:         p.Flip,
	})
}

// handleChat 聊天不要求已 join，且回显给发送者
func (rt *Router) handleChat(ev Inbound) {
	text := decodeChat(ev.Data)
	if text == "" {
		rt.metrics.IncDropped(dropEmptyChat)
		return
	}

	msg := ChatMessage{
		ConnectionID: ev.ConnID,
		Text:         text,
		TS:           rt.now().UnixMilli(),
		Character:    unknownCharacter,
		Rarity:       unknownRarity,
	}
	if p, ok := rt.registry.Get(ev.ConnID); ok {
		msg.Character = p.Character
		msg.Rarity = p.Rarity
	}

	rt.log.Infow("chat", "conn", ev.ConnID, "text", text)
	rt.fanout.ToAll(EventChat, msg)
}

// handleDisconnect 幂等：条目已不存在时只记日志
func (rt *Router) handleDisconnect(ev Inbound) {
	rt.registry.Detach(ev.ConnID)
	if _, ok := rt.registry.Get(ev.ConnID); !ok {
		rt.log.Infow("disconnected without join", "conn", ev.ConnID, "reason", ev.Reason)
		return
	}

	rt.log.Infow("player left", "conn", ev.ConnID, "reason", ev.Reason)
	rt.fanout.ToAllExcept(ev.ConnID, EventPlayerLeft, ev.ConnID)
	rt.registry.Remove(ev.ConnID)
}

// metricName 限制标签基数，未知事件统一归类
func metricName(name EventName) EventName {
	switch name {
	case eventConnect, EventJoin, EventMove, EventChat, eventDisconnect:
		return name
	default:
		return "unknown"
	}
}
