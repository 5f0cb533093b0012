package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakePeer 记录投递给它的每一条消息
type fakePeer struct {
	id   string
	full bool

	mu   sync.Mutex
	msgs [][]byte
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Enqueue(b []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.msgs = append(p.msgs, b)
	return true
}

type received struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// take 取出并清空已收到的消息
func (p *fakePeer) take(t *testing.T) []received {
	t.Helper()
	p.mu.Lock()
	msgs := p.msgs
	p.msgs = nil
	p.mu.Unlock()

	out := make([]received, 0, len(msgs))
	for _, b := range msgs {
		var r received
		require.NoError(t, json.Unmarshal(b, &r))
		out = append(out, r)
	}
	return out
}

// panicPeer 模拟 handler 内部异常
type panicPeer struct{ id string }

func (p panicPeer) ID() string           { return p.id }
func (p panicPeer) Enqueue(_ []byte) bool { panic("enqueue exploded") }

var testNow = time.UnixMilli(1_700_000_000_000)

func newTestRouter(t *testing.T) (*Router, *Registry, *Metrics) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	m := NewMetrics()
	reg := NewRegistry(DefaultPlayerDefaults())
	rt := NewRouter(reg, NewFanout(reg, m, log), m, log)
	rt.now = func() time.Time { return testNow }
	return rt, reg, m
}

// connectPeer 建立连接并丢弃 connection_id 消息
func connectPeer(t *testing.T, rt *Router, id string) *fakePeer {
	t.Helper()
	p := newFakePeer(id)
	rt.Dispatch(Inbound{Name: eventConnect, ConnID: id, Peer: p})
	got := p.take(t)
	require.Len(t, got, 1)
	require.Equal(t, EventConnectionID, got[0].Event)
	return p
}

func send(rt *Router, id string, name EventName, data string) {
	rt.Dispatch(Inbound{Name: name, ConnID: id, Data: json.RawMessage(data)})
}

func decodeData[T any](t *testing.T, r received) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func nopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }
