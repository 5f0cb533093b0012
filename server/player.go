package server

import "time"

// PlayerDefaults 创建玩家状态时缺省字段使用的默认值
type PlayerDefaults struct {
	Character string  `yaml:"character"`
	Rarity    string  `yaml:"rarity"`
	Strength  float64 `yaml:"strength"`
	Speed     float64 `yaml:"speed"`
	Stamina   float64 `yaml:"stamina"`
}

// DefaultPlayerDefaults 与客户端约定的基线属性
func DefaultPlayerDefaults() PlayerDefaults {
	return PlayerDefaults{
		Character: "MykeTyroson",
		Rarity:    "Common",
		Strength:  10,
		Speed:     10,
		Stamina:   100,
	}
}

// 聊天发送者尚未 join 时使用的展示身份
const (
	unknownCharacter = "Unknown"
	unknownRarity    = "Common"
)

// PlayerState 每个已 join 连接的大厅状态（广播给客户端的结构）
type PlayerState struct {
	ConnectionID string  `json:"connectionId"`
	Character    string  `json:"character"`
	Rarity       string  `json:"rarity"`
	Strength     float64 `json:"strength"`
	Speed        float64 `json:"speed"`
	Stamina      float64 `json:"stamina"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Flip         bool    `json:"flip"`
	LastSeen     int64   `json:"lastSeen"` // unix 毫秒
}

// newPlayerState 按创建语义构造：缺失或非法字段一律取默认值
func newPlayerState(id string, in JoinPayload, def PlayerDefaults, now time.Time) PlayerState {
	return PlayerState{
		ConnectionID: id,
		Character:    stringOr(in.Character, def.Character),
		Rarity:       stringOr(in.Rarity, def.Rarity),
		Strength:     floatOr(in.Strength, def.Strength),
		Speed:        floatOr(in.Speed, def.Speed),
		Stamina:      floatOr(in.Stamina, def.Stamina),
		X:            floatOr(in.X, 0),
		Y:            floatOr(in.Y, 0),
		Flip:         boolOr(in.Flip, false),
		LastSeen:     now.UnixMilli(),
	}
}

// applyMove 按更新语义修改位置：缺失或非法字段保留上一次的值
func (p *PlayerState) applyMove(in MovePayload, now time.Time) {
	p.X = floatOr(in.X, p.X)
	p.Y = floatOr(in.Y, p.Y)
	p.Flip = boolOr(in.Flip, p.Flip)
	p.LastSeen = now.UnixMilli()
}

func stringOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
