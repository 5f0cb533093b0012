package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// EventName 入站/出站事件名
type EventName string

// 客户端 → 服务端
const (
	EventJoin EventName = "join"
	EventMove EventName = "move"
	EventChat EventName = "chat"

	// 由传输层产生，不接受客户端直接发送
	eventConnect    EventName = "connect"
	eventDisconnect EventName = "disconnect"
	eventSnapshot   EventName = "snapshot"
)

// 服务端 → 客户端
const (
	EventConnectionID   EventName = "connection_id"
	EventLobbySnapshot  EventName = "lobby_snapshot"
	EventNewPlayer      EventName = "new_player"
	EventPositionUpdate EventName = "position_update"
	EventPlayerLeft     EventName = "player_left"
)

// ChatMaxLength 聊天文本最大长度（按字符计），超出部分静默截断
const ChatMaxLength = 80

var (
	ErrInvalidEnvelope = errors.New("invalid event envelope")
	ErrNotObject       = errors.New("payload is not an object")
)

// Inbound 投递到大厅事件循环的一条事件
// Data 保留原始 JSON，由对应的 handler 按事件名解码
type Inbound struct {
	Name   EventName
	ConnID string
	Data   json.RawMessage

	Peer   Peer   // 仅 connect
	Reason string // 仅 disconnect

	reply chan<- []PlayerState // 仅 snapshot
}

// envelope 单个 websocket 文本帧
// 示例：{"event":"move","data":{"x":3,"y":4}}
type envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// parseEnvelope 解析客户端帧；内部事件名不允许从网络进入
func parseEnvelope(b []byte) (EventName, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	switch env.Event {
	case "", eventConnect, eventDisconnect, eventSnapshot:
		return "", nil, fmt.Errorf("%w: event %q", ErrInvalidEnvelope, env.Event)
	}
	return env.Event, env.Data, nil
}

// JoinPayload join 事件的可选字段；nil 表示缺失或非法
type JoinPayload struct {
	Character *string
	Rarity    *string
	Strength  *float64
	Speed     *float64
	Stamina   *float64
	X         *float64
	Y         *float64
	Flip      *bool
}

// MovePayload move 事件的可选字段；nil 表示缺失或非法
type MovePayload struct {
	X    *float64
	Y    *float64
	Flip *bool
}

func decodeJoin(raw json.RawMessage) (JoinPayload, error) {
	m, err := decodeObject(raw)
	if err != nil {
		return JoinPayload{}, err
	}
	return JoinPayload{
		Character: stringField(m, "character"),
		Rarity:    stringField(m, "rarity"),
		Strength:  numberField(m, "strength"),
		Speed:     numberField(m, "speed"),
		Stamina:   numberField(m, "stamina"),
		X:         numberField(m, "x"),
		Y:         numberField(m, "y"),
		Flip:      boolField(m, "flip"),
	}, nil
}

func decodeMove(raw json.RawMessage) (MovePayload, error) {
	m, err := decodeObject(raw)
	if err != nil {
		return MovePayload{}, err
	}
	return MovePayload{
		X:    numberField(m, "x"),
		Y:    numberField(m, "y"),
		Flip: boolField(m, "flip"),
	}, nil
}

// decodeChat 接受字符串或 {text}，返回清理后的文本（可能为空）
func decodeChat(raw json.RawMessage) string {
	v, ok := decodeAny(raw)
	if !ok {
		return ""
	}
	var text string
	switch t := v.(type) {
	case map[string]any:
		text = scalarString(t["text"])
	default:
		text = scalarString(t)
	}
	return truncateRunes(strings.TrimSpace(text), ChatMaxLength)
}

// decodeObject 对象或“序列化后的对象字符串”两种形式都接受
func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode text payload: %w", err)
		}
		raw = bytes.TrimSpace([]byte(s))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ErrNotObject
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode object payload: %w", err)
	}
	return m, nil
}

func decodeAny(raw json.RawMessage) (any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func field(m map[string]json.RawMessage, key string) (any, bool) {
	raw, ok := m[key]
	if !ok {
		return nil, false
	}
	v, ok := decodeAny(raw)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// numberField 数字或数字字符串；NaN/Inf 视为非法
func numberField(m map[string]json.RawMessage, key string) *float64 {
	v, ok := field(m, key)
	if !ok {
		return nil
	}
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func boolField(m map[string]json.RawMessage, key string) *bool {
	v, ok := field(m, key)
	if !ok {
		return nil
	}
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		b = parsed
	case json.Number:
		f, err := t.Float64()
		if err != nil || math.IsNaN(f) {
			return nil
		}
		b = f != 0
	default:
		return nil
	}
	return &b
}

func stringField(m map[string]json.RawMessage, key string) *string {
	v, ok := field(m, key)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
