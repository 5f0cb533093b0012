package server

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrLobbyClosed 大厅事件循环已停止
var ErrLobbyClosed = errors.New("lobby closed")

// Lobby 大厅：单 goroutine 事件循环独占 Registry
// 所有连接的事件按到达顺序逐条处理，handler 之间从不并发
type Lobby struct {
	registry *Registry
	router   *Router

	inbox chan Inbound

	done      chan struct{}
	closeOnce sync.Once
}

// NewLobby 创建大厅（尚未开始处理事件，需调用 Run）
func NewLobby(cfg LobbyConfig, defaults PlayerDefaults, metrics *Metrics, log *zap.SugaredLogger) *Lobby {
	reg := NewRegistry(defaults)
	fanout := NewFanout(reg, metrics, log)
	return &Lobby{
		registry: reg,
		router:   NewRouter(reg, fanout, metrics, log),
		inbox:    make(chan Inbound, cfg.InboxSize),
		done:     make(chan struct{}),
	}
}

// Run 事件循环，直到 ctx 取消或 Close
func (l *Lobby) Run(ctx context.Context) {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case ev := <-l.inbox:
			if ev.Name == eventSnapshot {
				ev.reply <- l.registry.List()
				continue
			}
			l.router.Dispatch(ev)
		}
	}
}

// Submit 投递一条事件；inbox 满时阻塞，保证 disconnect 不会丢失
func (l *Lobby) Submit(ctx context.Context, ev Inbound) error {
	select {
	case <-l.done:
		return ErrLobbyClosed
	default:
	}
	select {
	case l.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLobbyClosed
	}
}

// Snapshot 由事件循环复制当前所有玩家状态，调用方拿到的是独立副本
// 请求与普通事件走同一个 inbox，因此能看到之前已投递事件的结果
func (l *Lobby) Snapshot(ctx context.Context) ([]PlayerState, error) {
	reply := make(chan []PlayerState, 1)
	if err := l.Submit(ctx, Inbound{Name: eventSnapshot, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case players := <-reply:
		return players, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrLobbyClosed
	}
}

// Close 停止事件循环，可重复调用
func (l *Lobby) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Done 事件循环停止后关闭
func (l *Lobby) Done() <-chan struct{} { return l.done }
