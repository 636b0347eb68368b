package ws

import (
	"context"
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"maps-and-minis/server/internal/auth"
	"maps-and-minis/server/internal/net/proto"
	"maps-and-minis/server/internal/session"
	"maps-and-minis/server/internal/statesync"
	"maps-and-minis/server/logging"
	loggingnetwork "maps-and-minis/server/logging/network"
)

// HandlerConfig carries optional collaborators for the websocket handler.
type HandlerConfig struct {
	Logger    *log.Logger
	Publisher logging.Publisher
	Verifier  auth.Verifier
}

// Handler upgrades connections, authenticates them, and runs the per-client
// read loop. All game mutations go through the session; the handler only
// translates frames.
type Handler struct {
	sessions  *session.Manager
	registry  *Registry
	verifier  auth.Verifier
	publisher logging.Publisher
	logger    *log.Logger
	upgrader  websocket.Upgrader
}

// NewHandler constructs a websocket handler over the session manager.
func NewHandler(sessions *session.Manager, registry *Registry, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = auth.Anonymous{}
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}
	return &Handler{
		sessions:  sessions,
		registry:  registry,
		verifier:  verifier,
		publisher: publisher,
		logger:    logger,
		upgrader:  upgrader,
	}
}

// Handle upgrades an HTTP request and serves the connection until it drops.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	identity, err := h.verifier.Validate(r.URL.Query().Get("token"), r.RemoteAddr, r.UserAgent())
	if err != nil {
		nethttp.Error(w, "unauthorized", nethttp.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", identity.UserID, err)
		return
	}
	h.serve(identity, wsConn)
}

// serve runs the read loop for one authenticated connection. Split from
// Handle so tests can drive it with an in-memory conn.
func (h *Handler) serve(identity auth.Identity, netConn conn) {
	c := &client{
		id:           uuid.NewString(),
		userID:       identity.UserID,
		displayName:  identity.DisplayName,
		conn:         netConn,
		lastActivity: time.Now(),
	}
	h.registry.add(c)
	loggingnetwork.ClientConnected(context.Background(), h.publisher,
		logging.EntityRef{ID: c.id, Kind: logging.EntityKindClient},
		loggingnetwork.ClientPayload{UserID: c.userID})

	greeting, err := proto.EncodeConnectionEstablished(proto.ConnectionEstablished{
		ClientID:   c.id,
		UserID:     c.userID,
		GameMaster: identity.GameMaster,
		ServerTime: time.Now().UnixMilli(),
	})
	if err == nil {
		err = c.send(greeting)
	}
	if err != nil {
		h.disconnect(c, "greeting failed")
		return
	}

	for {
		_, payload, err := netConn.ReadMessage()
		if err != nil {
			h.disconnect(c, "read failed")
			return
		}
		c.touch(time.Now())

		env, err := proto.DecodeEnvelope(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", c.userID, err)
			h.sendError(c, "MALFORMED", err.Error(), "")
			continue
		}
		if !h.dispatch(c, identity, env) {
			return
		}
	}
}

// dispatch handles one inbound envelope. A false return means the
// connection died mid-response and the read loop should exit.
func (h *Handler) dispatch(c *client, identity auth.Identity, env proto.Envelope) bool {
	switch env.Type {
	case proto.TypePing:
		return h.handlePing(c, env)
	case proto.TypeJoinGame:
		return h.handleJoin(c, identity, env)
	case proto.TypeLeaveGame:
		h.handleLeave(c, "left")
		return true
	case proto.TypeCombatSubscribe:
		// Combat state rides the regular sync stream; acknowledge with a
		// fresh full sync so late subscribers catch up immediately.
		return h.sendFullSync(c)
	default:
		return h.handleUpdate(c, env)
	}
}

func (h *Handler) handlePing(c *client, env proto.Envelope) bool {
	var p proto.PingPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return true
		}
	}
	now := time.Now()
	var rtt int64
	if p.ClientTime > 0 {
		rtt = now.UnixMilli() - p.ClientTime
		c.storeRTT(time.Duration(rtt) * time.Millisecond)
	}
	data, err := proto.EncodePong(proto.Pong{
		ServerTime: now.UnixMilli(),
		ClientTime: p.ClientTime,
		RTTMillis:  rtt,
	})
	if err != nil {
		return true
	}
	if err := c.send(data); err != nil {
		h.disconnect(c, "pong write failed")
		return false
	}
	return true
}

func (h *Handler) handleJoin(c *client, identity auth.Identity, env proto.Envelope) bool {
	var p proto.JoinGamePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.GameID == "" {
		h.sendError(c, "INVALID_JOIN", "missing game id", env.RequestID)
		return true
	}

	role := statesync.RolePlayer
	if identity.GameMaster {
		role = statesync.RoleGameMaster
	}
	displayName := p.DisplayName
	if displayName == "" {
		displayName = c.displayName
	}

	sess := h.sessions.GetOrCreate(p.GameID)
	full, err := sess.Join(statesync.Participant{ID: c.userID, Role: role, DisplayName: displayName})
	if err != nil {
		h.sendError(c, "JOIN_FAILED", err.Error(), env.RequestID)
		return true
	}

	c.joinSession(p.GameID, sess.ID(), role, full.Data.Sequence)
	h.registry.bind(c, sess.ID())

	data, err := proto.EncodeGameState(full)
	if err == nil {
		err = c.send(data)
	}
	if err != nil {
		h.disconnect(c, "full sync write failed")
		return false
	}

	if joined, err := proto.EncodePresence(proto.TypePlayerJoined, sess.ID(), proto.PresencePayload{
		Participant: statesync.Participant{ID: c.userID, Role: role, DisplayName: displayName},
	}); err == nil {
		h.registry.broadcastToSession(sess.ID(), c.id, joined)
	}

	// A returning game master unfreezes a session paused by their
	// disconnect.
	if paused, _ := sess.Paused(); paused && role == statesync.RoleGameMaster {
		sess.Resume()
		if resumed, err := proto.EncodeEvent(proto.TypeSessionResumed, sess.ID(), nil); err == nil {
			h.registry.broadcastToSession(sess.ID(), "", resumed)
		}
	}
	return true
}

func (h *Handler) handleLeave(c *client, reason string) {
	gameID, sessionID, role := c.session()
	if sessionID == "" {
		return
	}
	if sess, ok := h.sessions.Get(gameID); ok {
		sess.Leave(c.userID)
	}
	h.registry.unbind(c, sessionID)
	c.leaveSession()

	if left, err := proto.EncodePresence(proto.TypePlayerLeft, sessionID, proto.PresencePayload{
		Participant: statesync.Participant{ID: c.userID, Role: role},
		Reason:      reason,
	}); err == nil {
		h.registry.broadcastToSession(sessionID, c.id, left)
	}
}

func (h *Handler) handleUpdate(c *client, env proto.Envelope) bool {
	gameID, sessionID, _ := c.session()
	if sessionID == "" {
		h.sendError(c, "NOT_IN_SESSION", "join a game first", env.RequestID)
		return true
	}
	sess, ok := h.sessions.Get(gameID)
	if !ok {
		h.sendError(c, "SESSION_GONE", "session no longer live", env.RequestID)
		return true
	}

	if c.isDuplicateCommand(env.Seq) {
		return true
	}

	update, ok := proto.ClientUpdate(env)
	if !ok {
		if update.Type == statesync.UpdateTypeUnknown {
			// Unknown types are relayed as generic events so older
			// servers stay compatible with newer clients.
			loggingnetwork.UnknownMessage(context.Background(), h.publisher,
				logging.EntityRef{ID: c.id, Kind: logging.EntityKindClient}, env.Type)
			if relay, err := proto.EncodeEvent(env.Type, sessionID, env.Payload); err == nil {
				h.registry.broadcastToSession(sessionID, c.id, relay)
			}
			return true
		}
		h.sendError(c, "INVALID_PAYLOAD", "payload failed validation", env.RequestID)
		return true
	}

	stamped, ok := sess.HandleUpdate(c.userID, update)
	if !ok {
		h.sendError(c, "UPDATE_REJECTED", "update rejected", env.RequestID)
		return true
	}
	c.storeCommandSeq(env.Seq)

	switch stamped.Type {
	case statesync.UpdateTypeEntity:
		h.relayEntity(sess, stamped)
	case statesync.UpdateTypeSettings:
		h.relaySettings(sess, stamped)
	case statesync.UpdateTypeChat:
		h.relayChat(c, sess, stamped)
	case statesync.UpdateTypeDice:
		h.relayDice(c, sess, stamped)
	}
	return true
}

// relayToAudience fans a frame out to every participant allowed to see the
// update, across all of that participant's connections.
func (h *Handler) relayToAudience(sess *session.Session, u statesync.Update, data []byte) {
	for _, p := range sess.Participants() {
		if !u.VisibleTo(p) {
			continue
		}
		h.registry.sendToUser(sess.ID(), p.ID, data)
	}
}

// relayEntity announces an applied token mutation with the values the
// server actually stored, which can differ from the request after clamping
// and snapping. The sender is included so their client converges on the
// resolved position.
func (h *Handler) relayEntity(sess *session.Session, u statesync.Update) {
	var msgType string
	switch u.Entity.Action {
	case statesync.EntityMove:
		msgType = proto.TypeTokenMoved
	case statesync.EntityAdd:
		msgType = proto.TypeTokenAdded
	case statesync.EntityRemove:
		msgType = proto.TypeTokenRemoved
	default:
		return
	}
	data, err := proto.EncodeTokenEvent(msgType, sess.ID(), proto.TokenEvent{
		PlayerID: u.PlayerID,
		TokenID:  u.Entity.EntityID,
		X:        u.Entity.X,
		Y:        u.Entity.Y,
		Size:     u.Entity.Size,
		Hidden:   u.Entity.Hidden,
		OwnerID:  u.Entity.OwnerID,
		Name:     u.Entity.Name,
		Sequence: u.SequenceID,
	})
	if err != nil {
		return
	}
	h.relayToAudience(sess, u, data)
}

func (h *Handler) relaySettings(sess *session.Session, u statesync.Update) {
	data, err := proto.EncodeSceneUpdated(sess.ID(), proto.SceneUpdatedPayload{
		PlayerID:  u.PlayerID,
		Grid:      u.Settings.Grid,
		SceneName: u.Settings.SceneName,
		Sequence:  u.SequenceID,
	})
	if err != nil {
		return
	}
	h.relayToAudience(sess, u, data)
}

// relayChat delivers a chat line immediately; whispers reach the sender,
// the target, and the game master.
func (h *Handler) relayChat(c *client, sess *session.Session, u statesync.Update) {
	data, err := proto.EncodeChatBroadcast(sess.ID(), proto.ChatBroadcast{
		PlayerID: c.userID,
		Name:     c.displayName,
		Text:     u.Chat.Text,
		To:       u.Chat.To,
	})
	if err != nil {
		return
	}
	h.relayToAudience(sess, u, data)
}

func (h *Handler) relayDice(c *client, sess *session.Session, u statesync.Update) {
	data, err := proto.EncodeDiceRolled(sess.ID(), proto.DiceRolled{
		PlayerID:   c.userID,
		Expression: u.Dice.Expression,
		Rolls:      u.Dice.Rolls,
		Total:      u.Dice.Total,
		Private:    u.Dice.Private,
	})
	if err != nil {
		return
	}
	h.relayToAudience(sess, u, data)
}

func (h *Handler) sendFullSync(c *client) bool {
	gameID, sessionID, _ := c.session()
	if sessionID == "" {
		return true
	}
	sess, ok := h.sessions.Get(gameID)
	if !ok {
		return true
	}
	full, err := sess.FullSyncFor(c.userID)
	if err != nil {
		return true
	}
	data, err := proto.EncodeGameState(full)
	if err != nil {
		return true
	}
	if err := c.send(data); err != nil {
		h.disconnect(c, "full sync write failed")
		return false
	}
	c.storeDeltaCursor(full.Data.Sequence)
	return true
}

// disconnect tears down a connection. If the departing user is the game
// master, the session pauses until they return. Safe to call from both the
// read loop and the background loops; only the first call runs teardown.
func (h *Handler) disconnect(c *client, reason string) {
	if !c.markClosed() {
		return
	}
	gameID, sessionID, role := c.session()
	h.registry.remove(c)
	c.conn.Close()
	loggingnetwork.ClientDisconnected(context.Background(), h.publisher,
		logging.EntityRef{ID: c.id, Kind: logging.EntityKindClient},
		loggingnetwork.ClientPayload{UserID: c.userID, GameID: gameID, Reason: reason})

	if sessionID == "" {
		return
	}
	if left, err := proto.EncodePresence(proto.TypePlayerLeft, sessionID, proto.PresencePayload{
		Participant: statesync.Participant{ID: c.userID, Role: role},
		Reason:      reason,
	}); err == nil {
		h.registry.broadcastToSession(sessionID, c.id, left)
	}
	if role != statesync.RoleGameMaster {
		return
	}
	if sess, ok := h.sessions.Get(gameID); ok {
		sess.Pause("game master disconnected")
		if paused, err := proto.EncodeEvent(proto.TypeSessionPaused, sessionID,
			map[string]string{"reason": "game master disconnected"}); err == nil {
			h.registry.broadcastToSession(sessionID, "", paused)
		}
	}
}

func (h *Handler) sendError(c *client, code, message, requestID string) {
	data, err := proto.EncodeError(proto.ErrorPayload{Code: code, Message: message, RequestID: requestID})
	if err != nil {
		return
	}
	if err := c.send(data); err != nil {
		loggingnetwork.SendFailed(context.Background(), h.publisher,
			logging.EntityRef{ID: c.id, Kind: logging.EntityKindClient}, err.Error())
	}
}
