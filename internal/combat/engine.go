package combat

import (
	"context"
	"errors"
	"sort"

	"maps-and-minis/server/logging"
	loggingcombat "maps-and-minis/server/logging/combat"
)

var (
	// ErrNotFound is returned for operations against unknown combatants.
	// Callers surface it as a failed result; it never aborts a tick.
	ErrNotFound = errors.New("combat: combatant not found")
	// ErrBadPhase is returned when an operation is not valid in the
	// engine's current phase.
	ErrBadPhase = errors.New("combat: invalid phase")
)

// Phase tracks the combat state machine.
type Phase string

const (
	PhaseSetup  Phase = "setup"
	PhaseActive Phase = "active"
	PhaseEnded  Phase = "ended"
)

// PermanentDuration marks a condition that never expires on its own.
const PermanentDuration = -1

// Condition is a named status on a combatant. Rounds counts down when the
// initiative order wraps; negative values are permanent.
type Condition struct {
	Name     string `json:"name"`
	Rounds   int    `json:"rounds"`
	SourceID string `json:"sourceId,omitempty"`
}

// Combatant is one entry in the initiative order. HP is split into current,
// max and temporary pools; temporary points absorb damage first.
type Combatant struct {
	ID         string         `json:"id"`
	TokenID    string         `json:"tokenId,omitempty"`
	Name       string         `json:"name,omitempty"`
	Initiative int            `json:"initiative"`
	HP         int            `json:"hp"`
	MaxHP      int            `json:"maxHp"`
	TempHP     int            `json:"tempHp,omitempty"`
	ArmorClass int            `json:"armorClass,omitempty"`
	HasActed   bool           `json:"hasActed"`
	Conditions []Condition    `json:"conditions,omitempty"`
	Abilities  map[string]int `json:"abilities,omitempty"`
}

func (c Combatant) clone() Combatant {
	copied := c
	if len(c.Conditions) > 0 {
		copied.Conditions = append([]Condition(nil), c.Conditions...)
	}
	if c.Abilities != nil {
		copied.Abilities = make(map[string]int, len(c.Abilities))
		for k, v := range c.Abilities {
			copied.Abilities[k] = v
		}
	}
	return copied
}

// State is a copyable snapshot of the engine for serialization.
type State struct {
	Phase       Phase       `json:"phase"`
	Round       int         `json:"round"`
	CurrentTurn int         `json:"currentTurn"`
	Combatants  []Combatant `json:"combatants"`
}

// Engine owns one combat encounter: initiative order, the round/turn state
// machine, and combatant health and conditions. It is not safe for concurrent
// use; the owning session serializes access.
type Engine struct {
	phase       Phase
	combatants  []*Combatant
	currentTurn int
	round       int
	publisher   logging.Publisher
	tick        func() uint64
}

// NewEngine constructs an engine in the setup phase. The tick func supplies
// the current simulation tick for log events; nil is allowed.
func NewEngine(pub logging.Publisher, tick func() uint64) *Engine {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if tick == nil {
		tick = func() uint64 { return 0 }
	}
	return &Engine{
		phase:      PhaseSetup,
		combatants: make([]*Combatant, 0),
		publisher:  pub,
		tick:       tick,
	}
}

// AddCombatant registers a combatant. During the active phase the initiative
// order is re-sorted; ties keep their insertion order either way.
func (e *Engine) AddCombatant(c Combatant) error {
	if e == nil || c.ID == "" {
		return ErrNotFound
	}
	if e.phase == PhaseEnded {
		return ErrBadPhase
	}
	if c.MaxHP > 0 && c.HP == 0 {
		c.HP = c.MaxHP
	}
	if existing := e.find(c.ID); existing != nil {
		*existing = c
	} else {
		copied := c
		e.combatants = append(e.combatants, &copied)
	}
	if e.phase == PhaseActive {
		e.sortInitiative()
	}
	return nil
}

// RemoveCombatant drops a combatant from the order, adjusting the current
// turn index so it stays valid.
func (e *Engine) RemoveCombatant(id string) bool {
	if e == nil {
		return false
	}
	for i, c := range e.combatants {
		if c.ID != id {
			continue
		}
		e.combatants = append(e.combatants[:i], e.combatants[i+1:]...)
		if i < e.currentTurn {
			e.currentTurn--
		}
		if e.currentTurn >= len(e.combatants) {
			e.currentTurn = 0
		}
		return true
	}
	return false
}

// StartCombat sorts the initiative order and activates the encounter. The
// first combatant is marked as having started its turn.
func (e *Engine) StartCombat() error {
	if e == nil || e.phase != PhaseSetup {
		return ErrBadPhase
	}
	if len(e.combatants) == 0 {
		return ErrNotFound
	}
	e.sortInitiative()
	e.phase = PhaseActive
	e.round = 1
	e.currentTurn = 0
	e.combatants[0].HasActed = true
	loggingcombat.Started(context.Background(), e.publisher, e.tick(), len(e.combatants))
	return nil
}

// NextTurn advances to the next combatant. Wrapping past the end of the
// order increments the round, resets every HasActed flag, and counts down
// round-based condition durations.
func (e *Engine) NextTurn() (Combatant, error) {
	if e == nil || e.phase != PhaseActive || len(e.combatants) == 0 {
		return Combatant{}, ErrBadPhase
	}
	e.currentTurn++
	if e.currentTurn >= len(e.combatants) {
		e.currentTurn = 0
		e.round++
		for _, c := range e.combatants {
			c.HasActed = false
		}
		e.expireConditions()
	}
	current := e.combatants[e.currentTurn]
	current.HasActed = true
	loggingcombat.TurnAdvanced(context.Background(), e.publisher, e.tick(), loggingcombat.TurnAdvancedPayload{
		Round:       e.round,
		TurnIndex:   e.currentTurn,
		CombatantID: current.ID,
	})
	return current.clone(), nil
}

// ApplyDamage subtracts hit points, consuming temporary HP first and
// clamping at zero.
func (e *Engine) ApplyDamage(targetID string, amount int, sourceID string) (Combatant, error) {
	if e == nil || amount < 0 {
		return Combatant{}, ErrNotFound
	}
	target := e.find(targetID)
	if target == nil {
		return Combatant{}, ErrNotFound
	}
	remaining := amount
	if target.TempHP > 0 {
		absorbed := remaining
		if absorbed > target.TempHP {
			absorbed = target.TempHP
		}
		target.TempHP -= absorbed
		remaining -= absorbed
	}
	target.HP -= remaining
	if target.HP < 0 {
		target.HP = 0
	}
	loggingcombat.DamageApplied(context.Background(), e.publisher, e.tick(),
		logging.EntityRef{ID: targetID, Kind: logging.EntityKindCombatant},
		loggingcombat.HealthDeltaPayload{Amount: amount, Remaining: target.HP, SourceID: sourceID})
	return target.clone(), nil
}

// ApplyHealing adds hit points, clamping at the maximum.
func (e *Engine) ApplyHealing(targetID string, amount int, sourceID string) (Combatant, error) {
	if e == nil || amount < 0 {
		return Combatant{}, ErrNotFound
	}
	target := e.find(targetID)
	if target == nil {
		return Combatant{}, ErrNotFound
	}
	target.HP += amount
	if target.MaxHP > 0 && target.HP > target.MaxHP {
		target.HP = target.MaxHP
	}
	loggingcombat.HealingApplied(context.Background(), e.publisher, e.tick(),
		logging.EntityRef{ID: targetID, Kind: logging.EntityKindCombatant},
		loggingcombat.HealthDeltaPayload{Amount: amount, Remaining: target.HP, SourceID: sourceID})
	return target.clone(), nil
}

// ApplyCondition appends a condition record. Rounds counts combat rounds;
// PermanentDuration (or any negative value) never expires.
func (e *Engine) ApplyCondition(targetID, name string, rounds int, sourceID string) error {
	if e == nil || name == "" {
		return ErrNotFound
	}
	target := e.find(targetID)
	if target == nil {
		return ErrNotFound
	}
	target.Conditions = append(target.Conditions, Condition{Name: name, Rounds: rounds, SourceID: sourceID})
	loggingcombat.ConditionApplied(context.Background(), e.publisher, e.tick(),
		logging.EntityRef{ID: targetID, Kind: logging.EntityKindCombatant},
		loggingcombat.ConditionPayload{Condition: name, Rounds: rounds, SourceID: sourceID})
	return nil
}

// RemoveCondition removes the first condition matching the name.
func (e *Engine) RemoveCondition(targetID, name string) bool {
	if e == nil {
		return false
	}
	target := e.find(targetID)
	if target == nil {
		return false
	}
	for i, cond := range target.Conditions {
		if cond.Name == name {
			target.Conditions = append(target.Conditions[:i], target.Conditions[i+1:]...)
			return true
		}
	}
	return false
}

// EndCombat transitions to the ended phase. Further mutations are rejected;
// the owning session drops its references after this.
func (e *Engine) EndCombat() {
	if e == nil || e.phase == PhaseEnded {
		return
	}
	rounds := e.round
	e.phase = PhaseEnded
	loggingcombat.Ended(context.Background(), e.publisher, e.tick(), rounds)
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	if e == nil {
		return PhaseEnded
	}
	return e.phase
}

// Snapshot returns a copy of the full combat state.
func (e *Engine) Snapshot() State {
	if e == nil {
		return State{Phase: PhaseEnded}
	}
	state := State{
		Phase:       e.phase,
		Round:       e.round,
		CurrentTurn: e.currentTurn,
		Combatants:  make([]Combatant, 0, len(e.combatants)),
	}
	for _, c := range e.combatants {
		state.Combatants = append(state.Combatants, c.clone())
	}
	return state
}

// Current returns the combatant whose turn it is.
func (e *Engine) Current() (Combatant, bool) {
	if e == nil || e.phase != PhaseActive || e.currentTurn >= len(e.combatants) {
		return Combatant{}, false
	}
	return e.combatants[e.currentTurn].clone(), true
}

// Combatant returns a copy of the combatant record.
func (e *Engine) Combatant(id string) (Combatant, bool) {
	c := e.find(id)
	if c == nil {
		return Combatant{}, false
	}
	return c.clone(), true
}

// CombatantByToken returns the combatant bound to a scene token, if any.
func (e *Engine) CombatantByToken(tokenID string) (Combatant, bool) {
	if e == nil || tokenID == "" {
		return Combatant{}, false
	}
	for _, c := range e.combatants {
		if c.TokenID == tokenID {
			return c.clone(), true
		}
	}
	return Combatant{}, false
}

func (e *Engine) find(id string) *Combatant {
	if e == nil {
		return nil
	}
	for _, c := range e.combatants {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// sortInitiative orders combatants by initiative descending. The sort is
// stable so equal initiatives keep their insertion order, which makes turn
// order deterministic.
func (e *Engine) sortInitiative() {
	sort.SliceStable(e.combatants, func(i, j int) bool {
		return e.combatants[i].Initiative > e.combatants[j].Initiative
	})
}

func (e *Engine) expireConditions() {
	for _, c := range e.combatants {
		if len(c.Conditions) == 0 {
			continue
		}
		kept := c.Conditions[:0]
		for _, cond := range c.Conditions {
			if cond.Rounds < 0 {
				kept = append(kept, cond)
				continue
			}
			cond.Rounds--
			if cond.Rounds <= 0 {
				loggingcombat.ConditionExpired(context.Background(), e.publisher, e.tick(),
					logging.EntityRef{ID: c.ID, Kind: logging.EntityKindCombatant}, cond.Name)
				continue
			}
			kept = append(kept, cond)
		}
		c.Conditions = kept
	}
}
