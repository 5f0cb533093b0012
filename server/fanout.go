package server

import (
	"encoding/json"

	"go.uber.org/zap"
)

// outbound 出站帧，与入站 envelope 同形
type outbound struct {
	Event EventName `json:"event"`
	Data  any       `json:"data"`
}

func encodeEvent(name EventName, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: name, Data: data})
}

// Fanout 基于连接集合快照的同步广播，只读 Registry
type Fanout struct {
	registry *Registry
	metrics  *Metrics
	log      *zap.SugaredLogger
}

// NewFanout 创建广播器
func NewFanout(reg *Registry, metrics *Metrics, log *zap.SugaredLogger) *Fanout {
	return &Fanout{registry: reg, metrics: metrics, log: log}
}

// ToSelf 只发给发起连接
func (f *Fanout) ToSelf(p Peer, name EventName, data any) {
	b, ok := f.encode(name, data)
	if !ok {
		return
	}
	f.deliver(p, name, b)
}

// ToAll 发给所有连接（含发送者）
func (f *Fanout) ToAll(name EventName, data any) {
	f.ToAllExcept("", name, data)
}

// ToAllExcept 发给除 senderID 以外的所有连接
// 以传输连接为准，未 join 的连接同样会收到
func (f *Fanout) ToAllExcept(senderID string, name EventName, data any) {
	b, ok := f.encode(name, data)
	if !ok {
		return
	}
	for _, p := range f.registry.Peers() {
		if senderID != "" && p.ID() == senderID {
			continue
		}
		f.deliver(p, name, b)
	}
}

// encode 每次广播只序列化一次
func (f *Fanout) encode(name EventName, data any) ([]byte, bool) {
	b, err := encodeEvent(name, data)
	if err != nil {
		f.log.Errorw("encode outbound event failed", "event", name, "error", err)
		return nil, false
	}
	return b, true
}

func (f *Fanout) deliver(p Peer, name EventName, b []byte) {
	if p.Enqueue(b) {
		return
	}
	// 慢连接：丢弃该条消息，不阻塞事件循环
	f.metrics.IncOutboundDropped()
	f.log.Debugw("peer send queue full, message dropped", "conn", p.ID(), "event", name)
}
