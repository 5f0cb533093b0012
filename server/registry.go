package server

import "time"

// Peer 一个传输层连接的发送端
type Peer interface {
	ID() string
	// Enqueue 非阻塞投递一条已编码消息，队列满时返回 false
	Enqueue(b []byte) bool
}

// Registry 连接与玩家状态的内存表，“谁在线”的唯一来源
// 只允许在大厅事件循环中访问，因此不加锁
type Registry struct {
	defaults PlayerDefaults
	peers    map[string]Peer
	players  map[string]*PlayerState
}

// NewRegistry 创建空表
func NewRegistry(defaults PlayerDefaults) *Registry {
	return &Registry{
		defaults: defaults,
		peers:    make(map[string]Peer),
		players:  make(map[string]*PlayerState),
	}
}

// Attach 记录一个已建立的传输连接（尚无玩家状态）
func (r *Registry) Attach(p Peer) {
	r.peers[p.ID()] = p
}

// Detach 移除传输连接，返回是否存在
func (r *Registry) Detach(id string) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// Peer 按 id 查找连接
func (r *Registry) Peer(id string) (Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Peers 当前连接集合的快照，用于广播
func (r *Registry) Peers() []Peer {
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Upsert 以创建语义写入（已存在则整体重置）
func (r *Registry) Upsert(id string, in JoinPayload, now time.Time) PlayerState {
	p := newPlayerState(id, in, r.defaults, now)
	r.players[id] = &p
	return p
}

// Update 以更新语义修改已存在条目；不存在返回 false
func (r *Registry) Update(id string, in MovePayload, now time.Time) (PlayerState, bool) {
	p, ok := r.players[id]
	if !ok {
		return PlayerState{}, false
	}
	p.applyMove(in, now)
	return *p, true
}

// Get 返回条目副本
func (r *Registry) Get(id string) (PlayerState, bool) {
	p, ok := r.players[id]
	if !ok {
		return PlayerState{}, false
	}
	return *p, true
}

// Remove 删除条目，返回是否存在
func (r *Registry) Remove(id string) bool {
	if _, ok := r.players[id]; !ok {
		return false
	}
	delete(r.players, id)
	return true
}

// List 所有条目的副本（不保证顺序）
func (r *Registry) List() []PlayerState {
	out := make([]PlayerState, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, *p)
	}
	return out
}

// Len 已 join 的玩家数
func (r *Registry) Len() int { return len(r.players) }

// Connections 传输连接数（含未 join 的连接）
func (r *Registry) Connections() int { return len(r.peers) }
