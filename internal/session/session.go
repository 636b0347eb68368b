package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"maps-and-minis/server/internal/combat"
	"maps-and-minis/server/internal/dice"
	"maps-and-minis/server/internal/effect"
	"maps-and-minis/server/internal/geom"
	"maps-and-minis/server/internal/grid"
	"maps-and-minis/server/internal/spatial"
	"maps-and-minis/server/internal/statesync"
	"maps-and-minis/server/internal/store"
	"maps-and-minis/server/logging"
	loggingsync "maps-and-minis/server/logging/sync"
)

const defaultTokenSize = 50.0

// Session is the authoritative arena for one game: the active scene, its
// tokens, effects, combat encounter, and the ordered update log. A single
// mutex serializes every mutation, so handlers and the tick loop observe a
// consistent world without partial updates.
type Session struct {
	mu sync.Mutex

	id      string
	gameID  string
	sceneID string

	records   *store.Store
	tokenIdx  *spatial.Index
	effects   *effect.Manager
	encounter *combat.Engine
	coord     *statesync.Coordinator
	publisher logging.Publisher
	rng       *rand.Rand

	tick        uint64
	paused      bool
	pauseReason string
	createdAt   time.Time
}

func newSession(gameID string, records *store.Store, pub logging.Publisher, maxQueue int) *Session {
	s := &Session{
		id:        uuid.NewString(),
		gameID:    gameID,
		sceneID:   "scene-" + gameID,
		records:   records,
		tokenIdx:  spatial.NewIndex(0),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		createdAt: time.Now(),
	}
	s.publisher = logging.WithSession(pub, s.id)
	records.CreateScene(store.Scene{
		ID:     s.sceneID,
		Name:   "Untitled Battle",
		Width:  2000,
		Height: 2000,
		Grid:   grid.Settings{CellSize: 50},
	})
	tickFn := func() uint64 { return s.tick }
	s.effects = effect.NewManager(s.sceneID, s.tokenIdx, s, s.publisher, tickFn)
	s.encounter = combat.NewEngine(s.publisher, tickFn)
	s.coord = statesync.NewCoordinator(s.id, s, s.publisher, tickFn, maxQueue)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// GameID returns the owning game id.
func (s *Session) GameID() string { return s.gameID }

// SceneID returns the active scene id.
func (s *Session) SceneID() string { return s.sceneID }

// Tick returns the current simulation tick.
func (s *Session) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Join registers a participant and returns their full sync snapshot.
func (s *Session) Join(p statesync.Participant) (statesync.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coord.AddParticipant(p)
	return s.coord.FullSync(p.ID)
}

// Leave removes a participant. Their tokens and past updates remain.
func (s *Session) Leave(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coord.RemoveParticipant(playerID)
}

// Participant looks up a session member.
func (s *Session) Participant(id string) (statesync.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Participant(id)
}

// Participants returns the member roster ordered by id.
func (s *Session) Participants() []statesync.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Participants()
}

// HandleUpdate normalizes, applies, and journals one update from a player.
// The returned update carries the assigned sequence id and any server-side
// resolution (snapped coordinates, generated ids, dice results); ok is false
// when the update was rejected, in which case nothing was queued.
func (s *Session) HandleUpdate(playerID string, u statesync.Update) (statesync.Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.PlayerID = playerID
	if s.paused && u.Type != statesync.UpdateTypeChat {
		s.rejectLocked(u, "session paused")
		return statesync.Update{}, false
	}
	if !s.normalizeLocked(&u) {
		s.rejectLocked(u, "payload failed validation")
		return statesync.Update{}, false
	}

	// Apply before queueing so the log only ever holds updates that took
	// effect; a rejection leaves the sequence untouched.
	if !s.coord.ApplyUpdate(u) {
		return statesync.Update{}, false
	}
	return s.coord.QueueUpdate(u), true
}

// normalizeLocked resolves server-side values before the update enters the
// log, so replaying logged updates reproduces the applied state exactly.
func (s *Session) normalizeLocked(u *statesync.Update) bool {
	switch u.Type {
	case statesync.UpdateTypeEntity:
		if u.Entity == nil {
			return false
		}
		return s.normalizeEntityLocked(u.PlayerID, u.Entity)
	case statesync.UpdateTypeDice:
		if u.Dice == nil {
			return false
		}
		roll, err := dice.Eval(u.Dice.Expression, s.rng)
		if err != nil {
			return false
		}
		u.Dice.Rolls = roll.Rolls
		u.Dice.Total = roll.Total
		return true
	case statesync.UpdateTypeEffect:
		if u.Effect == nil {
			return false
		}
		return s.normalizeEffectLocked(u.PlayerID, u.Effect)
	case statesync.UpdateTypeCombat, statesync.UpdateTypeSettings, statesync.UpdateTypeChat:
		return true
	default:
		return false
	}
}

func (s *Session) normalizeEntityLocked(playerID string, p *statesync.EntityPayload) bool {
	scene, ok := s.records.Scene(s.sceneID)
	if !ok {
		return false
	}
	switch p.Action {
	case statesync.EntityAdd:
		if p.EntityID == "" {
			p.EntityID = uuid.NewString()
		}
		if p.Size <= 0 {
			p.Size = defaultTokenSize
		}
		if p.OwnerID == "" {
			p.OwnerID = playerID
		}
		if p.Disposition == "" {
			p.Disposition = string(store.DispositionUnknown)
		}
		p.X, p.Y = grid.Clamp(p.X, p.Y, scene.Width, scene.Height)
		p.X, p.Y = grid.Snap(p.X, p.Y, scene.Grid)
		return true
	case statesync.EntityMove:
		token, ok := s.records.Token(p.EntityID)
		if !ok || token.SceneID != s.sceneID {
			return false
		}
		if !s.mayControlLocked(playerID, token) {
			return false
		}
		// Keep visibility metadata in the logged update so delta
		// filtering matches the stored token.
		p.Hidden = token.Hidden
		p.OwnerID = token.OwnerID
		p.Size = token.Size
		p.X, p.Y = grid.Clamp(p.X, p.Y, scene.Width, scene.Height)
		p.X, p.Y = grid.Snap(p.X, p.Y, scene.Grid)
		return true
	case statesync.EntityRemove:
		token, ok := s.records.Token(p.EntityID)
		if !ok || token.SceneID != s.sceneID {
			return false
		}
		if !s.mayControlLocked(playerID, token) {
			return false
		}
		p.Hidden = token.Hidden
		p.OwnerID = token.OwnerID
		return true
	default:
		return false
	}
}

// normalizeEffectLocked resolves effect id, owner, and creation time before
// the update enters the log, so replay spawns an identical effect.
func (s *Session) normalizeEffectLocked(playerID string, p *statesync.EffectPayload) bool {
	switch p.Action {
	case statesync.EffectSpawn:
		if p.Effect == nil {
			return false
		}
		if p.Effect.ID == "" {
			p.Effect.ID = uuid.NewString()
		}
		if p.Effect.OwnerID == "" || !s.isGameMasterLocked(playerID) {
			p.Effect.OwnerID = playerID
		}
		if p.Effect.CreatedAt.IsZero() {
			p.Effect.CreatedAt = time.Now()
		}
		p.Effect.SceneID = s.sceneID
		p.EffectID = p.Effect.ID
		return true
	case statesync.EffectRemove:
		existing, ok := s.effects.Effect(p.EffectID)
		if !ok {
			return false
		}
		return s.isGameMasterLocked(playerID) || existing.OwnerID == playerID
	default:
		return false
	}
}

func (s *Session) mayControlLocked(playerID string, token store.Token) bool {
	p, ok := s.coord.Participant(playerID)
	if !ok {
		return false
	}
	if p.Role == statesync.RoleGameMaster {
		return true
	}
	return token.OwnerID == playerID
}

// ApplyEntity applies a normalized entity payload. Part of the sync target
// contract; runs under the session mutex held by the caller chain.
func (s *Session) ApplyEntity(playerID string, p statesync.EntityPayload) bool {
	switch p.Action {
	case statesync.EntityAdd:
		err := s.records.PutToken(store.Token{
			ID:          p.EntityID,
			SceneID:     s.sceneID,
			X:           p.X,
			Y:           p.Y,
			Size:        p.Size,
			Disposition: store.Disposition(p.Disposition),
			ActorID:     p.ActorID,
			OwnerID:     p.OwnerID,
			Hidden:      p.Hidden,
			Name:        p.Name,
		})
		if err != nil {
			return false
		}
		s.indexToken(p.EntityID, p.X, p.Y, p.Size)
		return true
	case statesync.EntityMove:
		if err := s.records.SetTokenPosition(p.EntityID, p.X, p.Y); err != nil {
			return false
		}
		s.indexToken(p.EntityID, p.X, p.Y, p.Size)
		return true
	case statesync.EntityRemove:
		s.records.RemoveToken(p.EntityID)
		s.tokenIdx.Remove(s.sceneID, p.EntityID)
		if c, ok := s.encounter.CombatantByToken(p.EntityID); ok {
			s.encounter.RemoveCombatant(c.ID)
		}
		return true
	default:
		return false
	}
}

// ApplyCombat applies a combat payload against the encounter engine.
func (s *Session) ApplyCombat(playerID string, p statesync.CombatPayload) bool {
	switch p.Action {
	case statesync.CombatStart:
		if !s.isGameMasterLocked(playerID) {
			return false
		}
		if s.encounter.Phase() == combat.PhaseEnded {
			s.encounter = combat.NewEngine(s.publisher, func() uint64 { return s.tick })
		}
		return s.encounter.StartCombat() == nil
	case statesync.CombatEnd:
		if !s.isGameMasterLocked(playerID) {
			return false
		}
		s.encounter.EndCombat()
		return true
	case statesync.CombatNextTurn:
		if !s.isGameMasterLocked(playerID) {
			return false
		}
		_, err := s.encounter.NextTurn()
		return err == nil
	case statesync.CombatAddCombatant:
		id := p.TargetID
		if id == "" {
			id = p.TokenID
		}
		if id == "" {
			return false
		}
		if !s.isGameMasterLocked(playerID) {
			if token, ok := s.records.Token(p.TokenID); !ok || token.OwnerID != playerID {
				return false
			}
		}
		return s.encounter.AddCombatant(combat.Combatant{
			ID:         id,
			TokenID:    p.TokenID,
			Name:       p.Name,
			Initiative: p.Initiative,
			MaxHP:      p.MaxHP,
		}) == nil
	case statesync.CombatRemoveCombatant:
		if !s.isGameMasterLocked(playerID) {
			return false
		}
		return s.encounter.RemoveCombatant(p.TargetID)
	case statesync.CombatDamage:
		_, err := s.encounter.ApplyDamage(p.TargetID, p.Amount, playerID)
		return err == nil
	case statesync.CombatHeal:
		_, err := s.encounter.ApplyHealing(p.TargetID, p.Amount, playerID)
		return err == nil
	case statesync.CombatAddCondition:
		return s.encounter.ApplyCondition(p.TargetID, p.Condition, p.Rounds, playerID) == nil
	case statesync.CombatRemoveCondition:
		return s.encounter.RemoveCondition(p.TargetID, p.Condition)
	default:
		return false
	}
}

// ApplyEffect applies an effect lifecycle payload against the effect
// manager. Part of the sync target contract; runs under the session mutex.
func (s *Session) ApplyEffect(playerID string, p statesync.EffectPayload) bool {
	switch p.Action {
	case statesync.EffectSpawn:
		if p.Effect == nil {
			return false
		}
		_, err := s.effects.Spawn(*p.Effect, p.Effect.CreatedAt)
		return err == nil
	case statesync.EffectRemove:
		if !s.effects.Contains(p.EffectID) {
			return false
		}
		s.effects.Remove(p.EffectID)
		return true
	default:
		return false
	}
}

// ApplySettings applies a scene settings payload. The coordinator already
// enforced the game master requirement.
func (s *Session) ApplySettings(playerID string, p statesync.SettingsPayload) bool {
	applied := false
	if p.Grid != nil {
		if err := s.records.UpdateSceneGrid(s.sceneID, *p.Grid); err != nil {
			return false
		}
		applied = true
	}
	if p.SceneName != "" {
		if err := s.records.RenameScene(s.sceneID, p.SceneName); err != nil {
			return false
		}
		applied = true
	}
	return applied
}

// StateFor builds the full state visible to one participant: the game
// master sees everything, players see public tokens plus their own.
func (s *Session) StateFor(viewer statesync.Participant) statesync.FullState {
	scene, _ := s.records.Scene(s.sceneID)
	all := s.records.TokensInScene(s.sceneID)
	tokens := make([]store.Token, 0, len(all))
	for _, token := range all {
		if viewer.Role != statesync.RoleGameMaster && token.Hidden && token.OwnerID != viewer.ID {
			continue
		}
		tokens = append(tokens, token)
	}
	state := statesync.FullState{
		SceneID: s.sceneID,
		Grid:    scene.Grid,
		Tokens:  tokens,
		Effects: s.effects.Snapshot(),
	}
	if s.encounter.Phase() != combat.PhaseSetup {
		snapshot := s.encounter.Snapshot()
		state.Combat = &snapshot
	}
	return state
}

// TokenPosition reports a token's center and footprint for collision tests.
func (s *Session) TokenPosition(id string) (geom.Vec, float64, bool) {
	token, ok := s.records.Token(id)
	if !ok || token.SceneID != s.sceneID {
		return geom.Vec{}, 0, false
	}
	size := token.Size
	if size <= 0 {
		size = defaultTokenSize
	}
	return geom.Vec{X: token.X, Y: token.Y}, size, true
}

// SpawnEffect activates an effect on the scene through the update log, so
// clients replaying deltas reconstruct the same active set a full sync
// reports.
func (s *Session) SpawnEffect(ownerID string, e effect.Effect) (effect.Effect, error) {
	u, ok := s.HandleUpdate(ownerID, statesync.Update{
		Type:   statesync.UpdateTypeEffect,
		Effect: &statesync.EffectPayload{Action: statesync.EffectSpawn, Effect: &e},
	})
	if !ok {
		return effect.Effect{}, effect.ErrMalformed
	}
	return *u.Effect.Effect, nil
}

// RemoveEffect deactivates an effect on behalf of a player. Only the owner
// or the game master may remove it.
func (s *Session) RemoveEffect(playerID, id string) bool {
	_, ok := s.HandleUpdate(playerID, statesync.Update{
		Type:   statesync.UpdateTypeEffect,
		Effect: &statesync.EffectPayload{Action: statesync.EffectRemove, EffectID: id},
	})
	return ok
}

// FullSyncFor builds a complete snapshot message for one participant.
func (s *Session) FullSyncFor(playerID string) (statesync.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.FullSync(playerID)
}

// DeltaFor returns the updates a participant has not yet seen. A false
// second return means the cursor fell behind the log and the caller should
// request a full sync instead.
func (s *Session) DeltaFor(playerID string, since uint64) (statesync.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.DeltaSync(playerID, since)
}

// Sequence returns the last assigned update sequence id.
func (s *Session) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Sequence()
}

// Pause freezes the simulation. Mutations other than chat are rejected
// until Resume.
func (s *Session) Pause(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.pauseReason = reason
}

// Resume unfreezes the simulation.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.pauseReason = ""
}

// Paused reports whether the session is frozen and why.
func (s *Session) Paused() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.pauseReason
}

// Advance runs one fixed simulation tick: effects move, expand, and expire,
// and fresh collisions feed damage or healing into the encounter. Paused
// sessions skip the tick entirely.
func (s *Session) Advance(now time.Time, dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.tick++

	for _, collision := range s.effects.Advance(now, dt) {
		delta, ok := collision.Effect.Params[effect.ParamHealthDelta]
		if !ok || delta == 0 {
			continue
		}
		target, ok := s.encounter.CombatantByToken(collision.TokenID)
		if !ok {
			continue
		}
		payload := statesync.CombatPayload{TargetID: target.ID, Amount: int(delta)}
		if delta < 0 {
			payload.Action = statesync.CombatDamage
			payload.Amount = int(-delta)
		} else {
			payload.Action = statesync.CombatHeal
		}
		// Queued under the effect owner so clients can attribute the
		// change; application goes straight to the engine.
		s.coord.QueueUpdate(statesync.Update{
			Type:     statesync.UpdateTypeCombat,
			PlayerID: collision.Effect.OwnerID,
			Combat:   &payload,
		})
		if payload.Action == statesync.CombatDamage {
			s.encounter.ApplyDamage(target.ID, payload.Amount, collision.Effect.OwnerID)
		} else {
			s.encounter.ApplyHealing(target.ID, payload.Amount, collision.Effect.OwnerID)
		}
	}
}

// Combat exposes a read-only snapshot of the encounter.
func (s *Session) Combat() combat.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encounter.Snapshot()
}

func (s *Session) indexToken(id string, x, y, size float64) {
	if size <= 0 {
		size = defaultTokenSize
	}
	half := size / 2
	s.tokenIdx.Update(s.sceneID, id, x-half, y-half, size, size)
}

func (s *Session) isGameMasterLocked(playerID string) bool {
	p, ok := s.coord.Participant(playerID)
	return ok && p.Role == statesync.RoleGameMaster
}

func (s *Session) rejectLocked(u statesync.Update, reason string) {
	loggingsync.UpdateRejected(context.Background(), s.publisher, s.tick, loggingsync.RejectPayload{
		UpdateType: string(u.Type),
		PlayerID:   u.PlayerID,
		Reason:     reason,
	})
}
