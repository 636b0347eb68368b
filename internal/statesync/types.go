package statesync

import (
	"encoding/json"

	"maps-and-minis/server/internal/combat"
	"maps-and-minis/server/internal/effect"
	"maps-and-minis/server/internal/grid"
	"maps-and-minis/server/internal/store"
)

// Role determines what a participant may mutate and see.
type Role string

const (
	RolePlayer     Role = "player"
	RoleGameMaster Role = "gm"
	RoleSpectator  Role = "spectator"
)

// Participant is a logical member of a session. The record outlives any
// single connection; it is removed on explicit leave or session teardown.
type Participant struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
}

// UpdateType tags the closed set of known state mutations.
type UpdateType string

const (
	UpdateTypeEntity   UpdateType = "entity"
	UpdateTypeCombat   UpdateType = "combat"
	UpdateTypeEffect   UpdateType = "effect"
	UpdateTypeSettings UpdateType = "settings"
	UpdateTypeChat     UpdateType = "chat"
	UpdateTypeDice     UpdateType = "dice"
	// UpdateTypeUnknown is the forward-compatibility variant: carried in
	// the log for observers but never applied to state.
	UpdateTypeUnknown UpdateType = "unknown"
)

// EntityAction enumerates token mutations.
type EntityAction string

const (
	EntityMove   EntityAction = "move"
	EntityAdd    EntityAction = "add"
	EntityRemove EntityAction = "remove"
)

// EntityPayload mutates one token. Hidden and OwnerID double as the
// visibility inputs used when filtering deltas per participant.
type EntityPayload struct {
	Action      EntityAction `json:"action"`
	EntityID    string       `json:"entityId"`
	X           float64      `json:"x,omitempty"`
	Y           float64      `json:"y,omitempty"`
	Size        float64      `json:"size,omitempty"`
	Hidden      bool         `json:"hidden,omitempty"`
	OwnerID     string       `json:"ownerId,omitempty"`
	Disposition string       `json:"disposition,omitempty"`
	Name        string       `json:"name,omitempty"`
	ActorID     string       `json:"actorId,omitempty"`
}

// CombatAction enumerates combat-engine mutations.
type CombatAction string

const (
	CombatStart           CombatAction = "start"
	CombatEnd             CombatAction = "end"
	CombatAddCombatant    CombatAction = "add_combatant"
	CombatRemoveCombatant CombatAction = "remove_combatant"
	CombatNextTurn        CombatAction = "next_turn"
	CombatDamage          CombatAction = "damage"
	CombatHeal            CombatAction = "heal"
	CombatAddCondition    CombatAction = "add_condition"
	CombatRemoveCondition CombatAction = "remove_condition"
)

// CombatPayload mutates the combat engine.
type CombatPayload struct {
	Action     CombatAction `json:"action"`
	TargetID   string       `json:"targetId,omitempty"`
	TokenID    string       `json:"tokenId,omitempty"`
	Name       string       `json:"name,omitempty"`
	Amount     int          `json:"amount,omitempty"`
	Initiative int          `json:"initiative,omitempty"`
	MaxHP      int          `json:"maxHp,omitempty"`
	Condition  string       `json:"condition,omitempty"`
	Rounds     int          `json:"rounds,omitempty"`
}

// EffectAction enumerates effect-lifecycle mutations.
type EffectAction string

const (
	EffectSpawn  EffectAction = "spawn"
	EffectRemove EffectAction = "remove"
)

// EffectPayload spawns or removes a timed area effect. Spawn carries the
// full effect record with server-resolved id and creation time so replaying
// the log reproduces the active set; remove carries only the id.
type EffectPayload struct {
	Action   EffectAction   `json:"action"`
	EffectID string         `json:"effectId,omitempty"`
	Effect   *effect.Effect `json:"effect,omitempty"`
}

// SettingsPayload mutates scene settings. GM-only.
type SettingsPayload struct {
	Grid      *grid.Settings `json:"grid,omitempty"`
	SceneName string         `json:"sceneName,omitempty"`
}

// ChatPayload carries a chat line. A non-empty To makes it a whisper.
type ChatPayload struct {
	Text string `json:"text"`
	To   string `json:"to,omitempty"`
}

// DicePayload records a resolved dice roll.
type DicePayload struct {
	Expression string `json:"expression"`
	Private    bool   `json:"private,omitempty"`
	Rolls      []int  `json:"rolls,omitempty"`
	Total      int    `json:"total"`
}

// Update is one atomic, totally ordered mutation in a session's log.
// Exactly one payload pointer matching Type is set; Raw preserves the body
// of unknown types.
type Update struct {
	Type       UpdateType       `json:"type"`
	Timestamp  int64            `json:"timestamp"`
	PlayerID   string           `json:"playerId,omitempty"`
	SequenceID uint64           `json:"sequenceId"`
	Entity     *EntityPayload   `json:"entity,omitempty"`
	Combat     *CombatPayload   `json:"combat,omitempty"`
	Effect     *EffectPayload   `json:"effect,omitempty"`
	Settings   *SettingsPayload `json:"settings,omitempty"`
	Chat       *ChatPayload     `json:"chat,omitempty"`
	Dice       *DicePayload     `json:"dice,omitempty"`
	Raw        json.RawMessage  `json:"raw,omitempty"`
}

// VisibleTo reports whether a participant may see the update. The game
// master sees everything; players see public updates, their own entities,
// their own whispers, and their own private rolls.
func (u Update) VisibleTo(p Participant) bool {
	if p.Role == RoleGameMaster {
		return true
	}
	switch u.Type {
	case UpdateTypeEntity:
		if u.Entity == nil {
			return false
		}
		return !u.Entity.Hidden || u.Entity.OwnerID == p.ID
	case UpdateTypeChat:
		if u.Chat == nil {
			return false
		}
		return u.Chat.To == "" || u.Chat.To == p.ID || u.PlayerID == p.ID
	case UpdateTypeDice:
		if u.Dice == nil {
			return false
		}
		return !u.Dice.Private || u.PlayerID == p.ID
	case UpdateTypeCombat, UpdateTypeEffect, UpdateTypeSettings:
		return true
	default:
		return false
	}
}

// MessageKind distinguishes the two sync frame flavors.
type MessageKind string

const (
	KindFullSync  MessageKind = "full_sync"
	KindDeltaSync MessageKind = "delta_sync"
)

// FullState is the complete visible state serialized for one participant.
type FullState struct {
	SceneID string         `json:"sceneId"`
	Grid    grid.Settings  `json:"grid"`
	Tokens  []store.Token  `json:"tokens"`
	Effects []effect.Effect `json:"effects,omitempty"`
	Combat  *combat.State  `json:"combat,omitempty"`
}

// MessageData is the body of a sync message.
type MessageData struct {
	Players  []Participant `json:"players,omitempty"`
	State    *FullState    `json:"state,omitempty"`
	Updates  []Update      `json:"updates,omitempty"`
	Sequence uint64        `json:"sequence"`
}

// Message is either a full snapshot or an ordered batch of deltas.
type Message struct {
	Kind      MessageKind `json:"type"`
	SessionID string      `json:"sessionId"`
	Data      MessageData `json:"data"`
}
