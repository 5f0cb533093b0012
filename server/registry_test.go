package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJoin(t *testing.T, raw string) JoinPayload {
	t.Helper()
	in, err := decodeJoin(json.RawMessage(raw))
	require.NoError(t, err)
	return in
}

func mustMove(t *testing.T, raw string) MovePayload {
	t.Helper()
	in, err := decodeMove(json.RawMessage(raw))
	require.NoError(t, err)
	return in
}

func TestNewPlayerStateDefaults(t *testing.T) {
	t.Parallel()

	def := DefaultPlayerDefaults()
	p := newPlayerState("c1", mustJoin(t, `{}`), def, testNow)

	assert.Equal(t, PlayerState{
		ConnectionID: "c1",
		Character:    "MykeTyroson",
		Rarity:       "Common",
		Strength:     10,
		Speed:        10,
		Stamina:      100,
		X:            0,
		Y:            0,
		Flip:         false,
		LastSeen:     testNow.UnixMilli(),
	}, p)
}

func TestNewPlayerStateInvalidFieldsUseDefaults(t *testing.T) {
	t.Parallel()

	p := newPlayerState("c1", mustJoin(t, `{"character":"Rex","strength":"strong","speed":"3","x":"left","y":7,"flip":"nope"}`), DefaultPlayerDefaults(), testNow)

	assert.Equal(t, "Rex", p.Character)
	assert.Equal(t, "Common", p.Rarity)
	assert.Equal(t, 10.0, p.Strength)
	assert.Equal(t, 3.0, p.Speed)
	assert.Equal(t, 0.0, p.X)
	assert.Equal(t, 7.0, p.Y)
	assert.False(t, p.Flip)
}

func TestApplyMoveFallsBackToPrevious(t *testing.T) {
	t.Parallel()

	p := newPlayerState("c1", mustJoin(t, `{"x":4,"y":9,"flip":true}`), DefaultPlayerDefaults(), testNow)
	later := testNow.Add(time.Second)

	p.applyMove(mustMove(t, `{"x":6}`), later)
	assert.Equal(t, 6.0, p.X)
	assert.Equal(t, 9.0, p.Y, "omitted y keeps previous value")
	assert.True(t, p.Flip, "omitted flip keeps previous value")
	assert.Equal(t, later.UnixMilli(), p.LastSeen)

	p.applyMove(mustMove(t, `{"x":"bad","y":null,"flip":"bad"}`), later)
	assert.Equal(t, 6.0, p.X)
	assert.Equal(t, 9.0, p.Y)
	assert.True(t, p.Flip)
}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultPlayerDefaults())
	a, b := newFakePeer("a"), newFakePeer("b")
	reg.Attach(a)
	reg.Attach(b)
	assert.Equal(t, 2, reg.Connections())
	assert.Equal(t, 0, reg.Len())

	_, ok := reg.Get("a")
	assert.False(t, ok, "attached but not joined")

	reg.Upsert("a", mustJoin(t, `{"character":"Rex","x":5}`), testNow)
	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Rex", got.Character)
	assert.Equal(t, 5.0, got.X)

	// 再次 join 整体重置为创建语义
	reg.Upsert("a", mustJoin(t, `{"y":2}`), testNow)
	got, _ = reg.Get("a")
	assert.Equal(t, "MykeTyroson", got.Character)
	assert.Equal(t, 0.0, got.X)
	assert.Equal(t, 2.0, got.Y)

	_, ok = reg.Update("b", mustMove(t, `{"x":1}`), testNow)
	assert.False(t, ok, "update without entry")
	assert.Equal(t, 1, reg.Len())

	updated, ok := reg.Update("a", mustMove(t, `{"x":1}`), testNow)
	require.True(t, ok)
	assert.Equal(t, 1.0, updated.X)
	assert.Equal(t, 2.0, updated.Y)

	assert.True(t, reg.Remove("a"))
	assert.False(t, reg.Remove("a"))
	assert.True(t, reg.Detach("a"))
	assert.False(t, reg.Detach("a"))
	assert.Empty(t, reg.List())
	assert.Len(t, reg.Peers(), 1)
}

func TestRegistryListReturnsCopies(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultPlayerDefaults())
	reg.Upsert("a", mustJoin(t, `{"x":1}`), testNow)

	list := reg.List()
	require.Len(t, list, 1)
	list[0].X = 99

	got, _ := reg.Get("a")
	assert.Equal(t, 1.0, got.X)
}
