package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"maps-and-minis/server/internal/effect"
	"maps-and-minis/server/internal/geom"
	"maps-and-minis/server/internal/grid"
	"maps-and-minis/server/internal/statesync"
)

// Version tracks the wire-protocol revision expected by clients.
const Version = 1

// Client message type identifiers.
const (
	TypePing            = "PING"
	TypeJoinGame        = "JOIN_GAME"
	TypeLeaveGame       = "LEAVE_GAME"
	TypeTokenMove       = "TOKEN_MOVE"
	TypeMoveTokenLegacy = "MOVE_TOKEN"
	TypeTokenAdd        = "TOKEN_ADD"
	TypeTokenRemove     = "TOKEN_REMOVE"
	TypeSceneUpdate     = "SCENE_UPDATE"
	TypeEffectSpawn     = "EFFECT_SPAWN"
	TypeEffectRemove    = "EFFECT_REMOVE"
	TypeCombatUpdate    = "COMBAT_UPDATE"
	TypeCombatSubscribe = "COMBAT_SUBSCRIBE"
	TypeRollDice        = "ROLL_DICE"
	TypeChatMessage     = "CHAT_MESSAGE"
)

// Server message type identifiers.
const (
	TypeConnectionEstablished = "CONNECTION_ESTABLISHED"
	TypePong                  = "PONG"
	TypeGameState             = "GAME_STATE"
	TypeStateDelta            = "STATE_DELTA"
	TypeTokenMoved            = "TOKEN_MOVED"
	TypeTokenAdded            = "TOKEN_ADDED"
	TypeTokenRemoved          = "TOKEN_REMOVED"
	TypeSceneUpdated          = "SCENE_UPDATED"
	TypePlayerJoined          = "PLAYER_JOINED"
	TypePlayerLeft            = "PLAYER_LEFT"
	TypeSessionPaused         = "SESSION_PAUSED"
	TypeSessionResumed        = "SESSION_RESUMED"
	TypeDiceRolled            = "DICE_ROLLED"
	TypeChatBroadcast         = "CHAT_MESSAGE"
	TypeError                 = "ERROR"
)

// Envelope frames every websocket message in both directions. Payload stays
// raw until the type is known.
type Envelope struct {
	Ver       int             `json:"ver,omitempty"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	SentAt    int64           `json:"sentAt,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope converts a raw websocket frame into a structured envelope.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, err
	}
	if env.Ver == 0 {
		env.Ver = Version
	}
	if env.Ver != Version {
		return env, fmt.Errorf("unsupported client protocol version %d", env.Ver)
	}
	return env, nil
}

// JoinGamePayload asks to join a game session.
type JoinGamePayload struct {
	GameID      string `json:"gameId"`
	DisplayName string `json:"displayName,omitempty"`
	Token       string `json:"token,omitempty"`
}

// PingPayload carries client timing metadata for RTT measurement.
type PingPayload struct {
	ClientTime int64 `json:"clientTime"`
}

// TokenMovePayload moves one token to an absolute position.
type TokenMovePayload struct {
	TokenID string  `json:"tokenId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// TokenAddPayload places a new token on the active scene.
type TokenAddPayload struct {
	TokenID     string  `json:"tokenId,omitempty"`
	Name        string  `json:"name,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Size        float64 `json:"size,omitempty"`
	Disposition string  `json:"disposition,omitempty"`
	Hidden      bool    `json:"hidden,omitempty"`
	ActorID     string  `json:"actorId,omitempty"`
}

// TokenRemovePayload removes a token from the active scene.
type TokenRemovePayload struct {
	TokenID string `json:"tokenId"`
}

// SceneUpdatePayload changes scene settings. Game master only.
type SceneUpdatePayload struct {
	Grid      *grid.Settings `json:"grid,omitempty"`
	SceneName string         `json:"sceneName,omitempty"`
}

// EffectSpawnPayload activates a timed area effect on the active scene. The
// server assigns the id, owner, and creation time.
type EffectSpawnPayload struct {
	Kind           string             `json:"kind"`
	Shape          geom.Shape         `json:"shape"`
	Pos            geom.Vec           `json:"pos"`
	Velocity       geom.Vec           `json:"velocity,omitempty"`
	DurationMillis int64              `json:"durationMs,omitempty"`
	Expanding      bool               `json:"expanding,omitempty"`
	InitialRadius  float64            `json:"initialRadius,omitempty"`
	FinalRadius    float64            `json:"finalRadius,omitempty"`
	ExpandMillis   int64              `json:"expandMs,omitempty"`
	Params         map[string]float64 `json:"params,omitempty"`
}

// EffectRemovePayload deactivates an effect by id.
type EffectRemovePayload struct {
	EffectID string `json:"effectId"`
}

// CombatUpdatePayload carries one combat mutation.
type CombatUpdatePayload struct {
	Action     string `json:"action"`
	TargetID   string `json:"targetId,omitempty"`
	TokenID    string `json:"tokenId,omitempty"`
	Name       string `json:"name,omitempty"`
	Amount     int    `json:"amount,omitempty"`
	Initiative int    `json:"initiative,omitempty"`
	MaxHP      int    `json:"maxHp,omitempty"`
	Condition  string `json:"condition,omitempty"`
	Rounds     int    `json:"rounds,omitempty"`
}

// RollDicePayload asks the server to resolve a dice expression.
type RollDicePayload struct {
	Expression string `json:"expression"`
	Private    bool   `json:"private,omitempty"`
}

// ChatMessagePayload carries a chat line; a non-empty To whispers.
type ChatMessagePayload struct {
	Text string `json:"text"`
	To   string `json:"to,omitempty"`
}

// ClientUpdate translates an inbound envelope into the structured update the
// session applies. Unknown types return an unknown-variant update carrying
// the raw payload, with ok false, so the hub can log and relay them instead
// of dropping silently.
func ClientUpdate(env Envelope) (statesync.Update, bool) {
	switch env.Type {
	case TypeTokenMove, TypeMoveTokenLegacy:
		var p TokenMovePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.TokenID == "" {
			return statesync.Update{}, false
		}
		return statesync.Update{
			Type: statesync.UpdateTypeEntity,
			Entity: &statesync.EntityPayload{
				Action:   statesync.EntityMove,
				EntityID: p.TokenID,
				X:        p.X,
				Y:        p.Y,
			},
		}, true
	case TypeTokenAdd:
		var p TokenAddPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return statesync.Update{}, false
		}
		return statesync.Update{
			Type: statesync.UpdateTypeEntity,
			Entity: &statesync.EntityPayload{
				Action:      statesync.EntityAdd,
				EntityID:    p.TokenID,
				X:           p.X,
				Y:           p.Y,
				Size:        p.Size,
				Hidden:      p.Hidden,
				Disposition: p.Disposition,
				Name:        p.Name,
				ActorID:     p.ActorID,
			},
		}, true
	case TypeTokenRemove:
		var p TokenRemovePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.TokenID == "" {
			return statesync.Update{}, false
		}
		return statesync.Update{
			Type: statesync.UpdateTypeEntity,
			Entity: &statesync.EntityPayload{
				Action:   statesync.EntityRemove,
				EntityID: p.TokenID,
			},
		}, true
	case TypeSceneUpdate:
		var p SceneUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return statesync.Update{}, false
		}
		return statesync.Update{
			Type:     statesync.UpdateTypeSettings,
			Settings: &statesync.SettingsPayload{Grid: p.Grid, SceneName: p.SceneName},
		}, true
	case TypeEffectSpawn:
		var p EffectSpawnPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Kind == "" {
			return statesync.Update{}, false
		}
		e := effect.Effect{
			Kind:          p.Kind,
			Shape:         p.Shape,
			Pos:           p.Pos,
			Velocity:      p.Velocity,
			Expanding:     p.Expanding,
			InitialRadius: p.InitialRadius,
			FinalRadius:   p.FinalRadius,
			Params:        p.Params,
		}
		if p.ExpandMillis > 0 {
			e.ExpandDuration = time.Duration(p.ExpandMillis) * time.Millisecond
		}
		if p.DurationMillis > 0 {
			e.ExpiresAt = time.Now().Add(time.Duration(p.DurationMillis) * time.Millisecond)
		}
		return statesync.Update{
			Type:   statesync.UpdateTypeEffect,
			Effect: &statesync.EffectPayload{Action: statesync.EffectSpawn, Effect: &e},
		}, true
	case TypeEffectRemove:
		var p EffectRemovePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.EffectID == "" {
			return statesync.Update{}, false
		}
		return statesync.Update{
			Type:   statesync.UpdateTypeEffect,
			Effect: &statesync.EffectPayload{Action: statesync.EffectRemove, EffectID: p.EffectID},
		}, true
	case TypeCombatUpdate:
		var p CombatUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Action == "" {
			return statesync.Update{}, false
		}
		return statesync.Update{
			Type: statesync.UpdateTypeCombat,
			Combat: &statesync.CombatPayload{
				Action:     statesync.CombatAction(p.Action),
				TargetID:   p.TargetID,
				TokenID:    p.TokenID,
				Name:       p.Name,
				Amount:     p.Amount,
				Initiative: p.Initiative,
				MaxHP:      p.MaxHP,
				Condition:  p.Condition,
				Rounds:     p.Rounds,
			},
		}, true
	case TypeRollDice:
		var p RollDicePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Expression == "" {
			return statesync.Update{}, false
		}
		return statesync.Update{
			Type: statesync.UpdateTypeDice,
			Dice: &statesync.DicePayload{Expression: p.Expression, Private: p.Private},
		}, true
	case TypeChatMessage:
		var p ChatMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Text == "" {
			return statesync.Update{}, false
		}
		return statesync.Update{
			Type: statesync.UpdateTypeChat,
			Chat: &statesync.ChatPayload{Text: p.Text, To: p.To},
		}, true
	default:
		return statesync.Update{Type: statesync.UpdateTypeUnknown, Raw: env.Payload}, false
	}
}

// ConnectionEstablished greets a freshly upgraded client.
type ConnectionEstablished struct {
	ClientID   string `json:"clientId"`
	UserID     string `json:"userId"`
	GameMaster bool   `json:"gameMaster,omitempty"`
	ServerTime int64  `json:"serverTime"`
}

// EncodeConnectionEstablished renders the connection greeting.
func EncodeConnectionEstablished(msg ConnectionEstablished) ([]byte, error) {
	return encodeFrame(TypeConnectionEstablished, "", msg)
}

// Pong echoes timing metadata back to the client.
type Pong struct {
	ServerTime int64 `json:"serverTime"`
	ClientTime int64 `json:"clientTime"`
	RTTMillis  int64 `json:"rtt"`
}

// EncodePong renders a heartbeat acknowledgement payload.
func EncodePong(msg Pong) ([]byte, error) {
	return encodeFrame(TypePong, "", msg)
}

// EncodeGameState renders a full sync snapshot frame.
func EncodeGameState(msg statesync.Message) ([]byte, error) {
	return encodeFrame(TypeGameState, msg.SessionID, msg.Data)
}

// EncodeStateDelta renders an ordered delta batch frame.
func EncodeStateDelta(msg statesync.Message) ([]byte, error) {
	return encodeFrame(TypeStateDelta, msg.SessionID, msg.Data)
}

// PresencePayload announces a participant joining or leaving.
type PresencePayload struct {
	Participant statesync.Participant `json:"participant"`
	Reason      string                `json:"reason,omitempty"`
}

// EncodePresence renders a join or leave announcement.
func EncodePresence(msgType, sessionID string, msg PresencePayload) ([]byte, error) {
	return encodeFrame(msgType, sessionID, msg)
}

// TokenEvent reports one applied token mutation with the server-resolved
// position, so clients render the snapped coordinates rather than the raw
// request.
type TokenEvent struct {
	PlayerID string  `json:"playerId"`
	TokenID  string  `json:"tokenId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     float64 `json:"size,omitempty"`
	Hidden   bool    `json:"hidden,omitempty"`
	OwnerID  string  `json:"ownerId,omitempty"`
	Name     string  `json:"name,omitempty"`
	Sequence uint64  `json:"sequence"`
}

// EncodeTokenEvent renders a token moved, added, or removed frame.
func EncodeTokenEvent(msgType, sessionID string, msg TokenEvent) ([]byte, error) {
	return encodeFrame(msgType, sessionID, msg)
}

// SceneUpdatedPayload announces an applied scene settings change.
type SceneUpdatedPayload struct {
	PlayerID  string         `json:"playerId"`
	Grid      *grid.Settings `json:"grid,omitempty"`
	SceneName string         `json:"sceneName,omitempty"`
	Sequence  uint64         `json:"sequence"`
}

// EncodeSceneUpdated renders a scene settings broadcast frame.
func EncodeSceneUpdated(sessionID string, msg SceneUpdatedPayload) ([]byte, error) {
	return encodeFrame(TypeSceneUpdated, sessionID, msg)
}

// DiceRolled reports a resolved roll to its audience.
type DiceRolled struct {
	PlayerID   string `json:"playerId"`
	Expression string `json:"expression"`
	Rolls      []int  `json:"rolls"`
	Modifier   int    `json:"modifier,omitempty"`
	Total      int    `json:"total"`
	Private    bool   `json:"private,omitempty"`
}

// EncodeDiceRolled renders a dice result frame.
func EncodeDiceRolled(sessionID string, msg DiceRolled) ([]byte, error) {
	return encodeFrame(TypeDiceRolled, sessionID, msg)
}

// ChatBroadcast relays a chat line to its audience.
type ChatBroadcast struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text"`
	To       string `json:"to,omitempty"`
}

// EncodeChatBroadcast renders a chat frame.
func EncodeChatBroadcast(sessionID string, msg ChatBroadcast) ([]byte, error) {
	return encodeFrame(TypeChatBroadcast, sessionID, msg)
}

// ErrorPayload notifies the client that a request was refused.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// EncodeError renders an error frame.
func EncodeError(msg ErrorPayload) ([]byte, error) {
	return encodeFrame(TypeError, "", msg)
}

// EncodeEvent renders an arbitrary typed frame; used for pause, resume, and
// forward-compatible event relays.
func EncodeEvent(msgType, sessionID string, payload any) ([]byte, error) {
	return encodeFrame(msgType, sessionID, payload)
}

func encodeFrame(msgType, sessionID string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := struct {
		Ver       int             `json:"ver"`
		Type      string          `json:"type"`
		SessionID string          `json:"sessionId,omitempty"`
		Payload   json.RawMessage `json:"payload"`
	}{
		Ver:       Version,
		Type:      msgType,
		SessionID: sessionID,
		Payload:   body,
	}
	return json.Marshal(frame)
}
