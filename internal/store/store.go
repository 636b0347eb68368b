package store

import (
	"errors"
	"sort"
	"sync"

	"maps-and-minis/server/internal/grid"
)

// ErrNotFound is returned when a scene or token id is unknown.
var ErrNotFound = errors.New("store: not found")

// Disposition describes how a token relates to the party.
type Disposition string

const (
	DispositionFriendly Disposition = "friendly"
	DispositionNeutral  Disposition = "neutral"
	DispositionHostile  Disposition = "hostile"
	DispositionUnknown  Disposition = "unknown"
)

// Scene is a battle map: pixel dimensions plus grid settings. Tokens are
// stored separately and reference the scene by id.
type Scene struct {
	ID     string        `json:"id"`
	Name   string        `json:"name,omitempty"`
	Width  float64       `json:"width"`
	Height float64       `json:"height"`
	Grid   grid.Settings `json:"grid"`
}

// Token is a playing piece on a scene. ActorID references the owning
// character or monster record held by the external content store; it is
// opaque here. OwnerID is the user permitted to move the token.
type Token struct {
	ID          string      `json:"id"`
	SceneID     string      `json:"sceneId"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Size        float64     `json:"size"`
	Disposition Disposition `json:"disposition"`
	ActorID     string      `json:"actorId,omitempty"`
	OwnerID     string      `json:"ownerId,omitempty"`
	Hidden      bool        `json:"hidden,omitempty"`
	Name        string      `json:"name,omitempty"`
}

// Store is an explicit in-memory record store handed to each component that
// needs scene or token state. It replaces ambient globals: its lifecycle is
// owned by the process that constructs it.
type Store struct {
	mu     sync.RWMutex
	scenes map[string]*Scene
	tokens map[string]*Token
}

func New() *Store {
	return &Store{
		scenes: make(map[string]*Scene),
		tokens: make(map[string]*Token),
	}
}

// CreateScene registers a scene. An existing scene with the same id is
// replaced.
func (s *Store) CreateScene(scene Scene) {
	if s == nil || scene.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := scene
	s.scenes[scene.ID] = &copied
}

// Scene returns a copy of the scene record.
func (s *Store) Scene(id string) (Scene, bool) {
	if s == nil {
		return Scene{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	scene, ok := s.scenes[id]
	if !ok {
		return Scene{}, false
	}
	return *scene, true
}

// UpdateSceneGrid replaces a scene's grid settings.
func (s *Store) UpdateSceneGrid(id string, settings grid.Settings) error {
	if s == nil {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scene, ok := s.scenes[id]
	if !ok {
		return ErrNotFound
	}
	scene.Grid = settings
	return nil
}

// RenameScene replaces a scene's display name.
func (s *Store) RenameScene(id, name string) error {
	if s == nil {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scene, ok := s.scenes[id]
	if !ok {
		return ErrNotFound
	}
	scene.Name = name
	return nil
}

// RemoveScene drops the scene and every token on it.
func (s *Store) RemoveScene(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scenes, id)
	for tokenID, token := range s.tokens {
		if token.SceneID == id {
			delete(s.tokens, tokenID)
		}
	}
}

// PutToken inserts or replaces a token record.
func (s *Store) PutToken(token Token) error {
	if s == nil || token.ID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenes[token.SceneID]; !ok {
		return ErrNotFound
	}
	copied := token
	s.tokens[token.ID] = &copied
	return nil
}

// Token returns a copy of the token record.
func (s *Store) Token(id string) (Token, bool) {
	if s == nil {
		return Token{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[id]
	if !ok {
		return Token{}, false
	}
	return *token, true
}

// SetTokenPosition records a token's position. Callers clamp and snap before
// writing; the store keeps whatever it is given.
func (s *Store) SetTokenPosition(id string, x, y float64) error {
	if s == nil {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	token.X = x
	token.Y = y
	return nil
}

// RemoveToken drops the token. Removing an absent token is a no-op.
func (s *Store) RemoveToken(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
}

// TokensInScene returns copies of every token on the scene, ordered by id so
// snapshots serialize deterministically.
func (s *Store) TokensInScene(sceneID string) []Token {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]Token, 0)
	for _, token := range s.tokens {
		if token.SceneID == sceneID {
			tokens = append(tokens, *token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })
	return tokens
}
