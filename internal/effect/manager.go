package effect

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"maps-and-minis/server/internal/geom"
	"maps-and-minis/server/internal/spatial"
	"maps-and-minis/server/logging"
	loggingeffects "maps-and-minis/server/logging/effects"
)

// ErrMalformed is returned when an effect is spawned without the geometry
// its kind requires. Malformed effects are never inserted into the active
// set.
var ErrMalformed = errors.New("effect: malformed geometry")

// ParamHealthDelta is the conventional key for damage (negative) or healing
// (positive) applied when an effect collides with a token.
const ParamHealthDelta = "healthDelta"

// Effect is an active spell area or projectile. Position is the shape's
// center; a nonzero Velocity turns the effect into a projectile integrated
// each tick. Expanding effects grow their radius from InitialRadius to
// FinalRadius over ExpandDuration.
type Effect struct {
	ID             string             `json:"id"`
	SceneID        string             `json:"sceneId"`
	OwnerID        string             `json:"ownerId,omitempty"`
	Kind           string             `json:"kind"`
	Shape          geom.Shape         `json:"shape"`
	Pos            geom.Vec           `json:"pos"`
	Velocity       geom.Vec           `json:"velocity,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	ExpiresAt      time.Time          `json:"expiresAt,omitempty"`
	Expanding      bool               `json:"expanding,omitempty"`
	InitialRadius  float64            `json:"initialRadius,omitempty"`
	FinalRadius    float64            `json:"finalRadius,omitempty"`
	ExpandDuration time.Duration      `json:"expandDuration,omitempty"`
	Params         map[string]float64 `json:"params,omitempty"`
}

// Collision reports a token newly overlapped by an effect. Events are
// edge-triggered: one per (effect, token) pair until the pair separates.
type Collision struct {
	Effect  Effect
	TokenID string
}

// TokenSource supplies token positions and footprints for exact membership
// tests. The owning session implements it against its store.
type TokenSource interface {
	TokenPosition(id string) (pos geom.Vec, size float64, ok bool)
}

type pairKey struct {
	effectID string
	tokenID  string
}

// Manager owns the active effects of one scene and advances them on the
// session's fixed tick. It keeps its own spatial index of effect footprints
// and queries the session's token index for collision candidates. Not safe
// for concurrent use; the session serializes access.
type Manager struct {
	sceneID   string
	effectIdx *spatial.Index
	tokenIdx  *spatial.Index
	tokens    TokenSource
	publisher logging.Publisher
	tick      func() uint64

	effects   map[string]*Effect
	colliding map[pairKey]struct{}
}

// NewManager constructs a manager for one scene. tokenIdx is the session's
// token index; the effect index is owned by the manager.
func NewManager(sceneID string, tokenIdx *spatial.Index, tokens TokenSource, pub logging.Publisher, tick func() uint64) *Manager {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if tick == nil {
		tick = func() uint64 { return 0 }
	}
	return &Manager{
		sceneID:   sceneID,
		effectIdx: spatial.NewIndex(0),
		tokenIdx:  tokenIdx,
		tokens:    tokens,
		publisher: pub,
		tick:      tick,
		effects:   make(map[string]*Effect),
		colliding: make(map[pairKey]struct{}),
	}
}

// Spawn validates and registers an effect, indexing its initial footprint.
// Malformed geometry is dropped with a warning and never enters the active
// set.
func (m *Manager) Spawn(e Effect, now time.Time) (Effect, error) {
	if m == nil {
		return Effect{}, ErrMalformed
	}
	if e.Expanding {
		if e.Shape.Kind != geom.KindCircle || e.FinalRadius <= 0 || e.ExpandDuration <= 0 {
			m.reject(e, "bad expansion parameters")
			return Effect{}, ErrMalformed
		}
		if e.InitialRadius < 0 {
			e.InitialRadius = 0
		}
		e.Shape.Radius = e.InitialRadius
		if e.Shape.Radius == 0 {
			// A zero radius is legal mid-expansion but fails shape
			// validation; give the footprint a minimal extent.
			e.Shape.Radius = 0.1
		}
	}
	if !e.Shape.Valid() {
		m.reject(e, "invalid shape")
		return Effect{}, ErrMalformed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.SceneID = m.sceneID

	copied := e
	m.effects[e.ID] = &copied
	m.reindex(&copied)
	loggingeffects.Spawned(context.Background(), m.publisher, m.tick(),
		logging.EntityRef{ID: e.ID, Kind: logging.EntityKindEffect},
		loggingeffects.SpawnPayload{Kind: e.Kind, SceneID: m.sceneID, OwnerID: e.OwnerID})
	return copied, nil
}

// Remove drops an effect from the active set and the spatial index in one
// step; there is no two-phase deletion.
func (m *Manager) Remove(id string) {
	if m == nil || id == "" {
		return
	}
	if _, ok := m.effects[id]; !ok {
		return
	}
	delete(m.effects, id)
	m.effectIdx.Remove(m.sceneID, id)
	for key := range m.colliding {
		if key.effectID == id {
			delete(m.colliding, key)
		}
	}
}

// Advance runs one fixed tick: expansion interpolation, projectile
// integration, expiry, and edge-triggered collision detection. It returns
// the collisions that began this tick, ordered deterministically.
func (m *Manager) Advance(now time.Time, dt float64) []Collision {
	if m == nil || len(m.effects) == 0 {
		return nil
	}

	ids := make([]string, 0, len(m.effects))
	for id := range m.effects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	collisions := make([]Collision, 0)
	current := make(map[pairKey]struct{})

	for _, id := range ids {
		e := m.effects[id]

		if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
			delete(m.effects, id)
			m.effectIdx.Remove(m.sceneID, id)
			loggingeffects.Expired(context.Background(), m.publisher, m.tick(),
				logging.EntityRef{ID: id, Kind: logging.EntityKindEffect})
			continue
		}

		moved := false
		if e.Expanding {
			progress := geom.Clamp01(now.Sub(e.CreatedAt).Seconds() / e.ExpandDuration.Seconds())
			e.Shape.Radius = geom.Lerp(e.InitialRadius, e.FinalRadius, progress)
			if progress >= 1 {
				e.Expanding = false
			}
			moved = true
		}
		if e.Velocity.X != 0 || e.Velocity.Y != 0 {
			delta := e.Velocity.Scale(dt)
			e.Pos = e.Pos.Add(delta)
			e.Shape.Origin = e.Shape.Origin.Add(delta)
			moved = true
		}
		if moved {
			m.reindex(e)
		}

		for _, tokenID := range m.candidates(e) {
			pos, _, ok := m.tokens.TokenPosition(tokenID)
			if !ok || !geom.Contains(e.Shape, e.Pos, pos) {
				continue
			}
			key := pairKey{effectID: id, tokenID: tokenID}
			current[key] = struct{}{}
			if _, already := m.colliding[key]; already {
				continue
			}
			collisions = append(collisions, Collision{Effect: *e, TokenID: tokenID})
			loggingeffects.Collision(context.Background(), m.publisher, m.tick(),
				logging.EntityRef{ID: id, Kind: logging.EntityKindEffect},
				logging.EntityRef{ID: tokenID, Kind: logging.EntityKindToken})
		}
	}

	m.colliding = current
	return collisions
}

// Snapshot returns copies of the active effects ordered by id.
func (m *Manager) Snapshot() []Effect {
	if m == nil {
		return nil
	}
	effects := make([]Effect, 0, len(m.effects))
	for _, e := range m.effects {
		effects = append(effects, *e)
	}
	sort.Slice(effects, func(i, j int) bool { return effects[i].ID < effects[j].ID })
	return effects
}

// Len reports the number of active effects.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return len(m.effects)
}

// Effect returns a copy of an active effect by id.
func (m *Manager) Effect(id string) (Effect, bool) {
	if m == nil {
		return Effect{}, false
	}
	e, ok := m.effects[id]
	if !ok {
		return Effect{}, false
	}
	return *e, true
}

// Contains reports whether the effect is active.
func (m *Manager) Contains(id string) bool {
	if m == nil {
		return false
	}
	_, ok := m.effects[id]
	return ok
}

func (m *Manager) reindex(e *Effect) {
	x, y, w, h := geom.BoundingBox(e.Shape, e.Pos)
	m.effectIdx.Update(m.sceneID, e.ID, x, y, w, h)
}

// candidates returns token ids near the effect from the coarse index. The
// reach covers the effect's bounding box half-diagonal so no overlapping
// token is missed; exact geometry prunes the rest.
func (m *Manager) candidates(e *Effect) []string {
	if m.tokenIdx == nil || m.tokens == nil {
		return nil
	}
	_, _, w, h := geom.BoundingBox(e.Shape, e.Pos)
	reach := (w + h) / 2
	if reach <= 0 {
		reach = 1
	}
	ids := m.tokenIdx.Query(m.sceneID, e.Pos.X, e.Pos.Y, reach)
	sort.Strings(ids)
	return ids
}

func (m *Manager) reject(e Effect, reason string) {
	loggingeffects.Rejected(context.Background(), m.publisher, m.tick(),
		loggingeffects.SpawnPayload{Kind: e.Kind, SceneID: m.sceneID, OwnerID: e.OwnerID}, reason)
}
