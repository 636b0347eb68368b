package store

import (
	"errors"
	"testing"

	"maps-and-minis/server/internal/grid"
)

func testScene() Scene {
	return Scene{ID: "s1", Width: 2000, Height: 1500, Grid: grid.Settings{CellSize: 50}}
}

func TestSceneLifecycle(t *testing.T) {
	s := New()
	s.CreateScene(testScene())

	scene, ok := s.Scene("s1")
	if !ok || scene.Width != 2000 {
		t.Fatalf("Scene lookup = %+v, %v", scene, ok)
	}

	if err := s.UpdateSceneGrid("s1", grid.Settings{CellSize: 70}); err != nil {
		t.Fatalf("UpdateSceneGrid: %v", err)
	}
	scene, _ = s.Scene("s1")
	if scene.Grid.CellSize != 70 {
		t.Fatalf("grid not updated: %+v", scene.Grid)
	}

	if err := s.UpdateSceneGrid("missing", grid.Settings{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown scene err = %v", err)
	}
}

func TestTokenLifecycle(t *testing.T) {
	s := New()
	s.CreateScene(testScene())

	token := Token{ID: "t1", SceneID: "s1", X: 100, Y: 100, Size: 50, OwnerID: "u1"}
	if err := s.PutToken(token); err != nil {
		t.Fatalf("PutToken: %v", err)
	}
	if err := s.PutToken(Token{ID: "t2", SceneID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("token on unknown scene err = %v", err)
	}

	if err := s.SetTokenPosition("t1", 150, 200); err != nil {
		t.Fatalf("SetTokenPosition: %v", err)
	}
	got, ok := s.Token("t1")
	if !ok || got.X != 150 || got.Y != 200 {
		t.Fatalf("token after move = %+v, %v", got, ok)
	}

	// Returned copies must not alias store internals.
	got.X = 999
	again, _ := s.Token("t1")
	if again.X != 150 {
		t.Fatal("mutating a returned copy leaked into the store")
	}

	s.RemoveToken("t1")
	if _, ok := s.Token("t1"); ok {
		t.Fatal("token still present after RemoveToken")
	}
}

func TestTokensInSceneSortedAndScoped(t *testing.T) {
	s := New()
	s.CreateScene(testScene())
	s.CreateScene(Scene{ID: "s2", Width: 100, Height: 100})

	for _, id := range []string{"c", "a", "b"} {
		if err := s.PutToken(Token{ID: id, SceneID: "s1"}); err != nil {
			t.Fatalf("PutToken(%s): %v", id, err)
		}
	}
	if err := s.PutToken(Token{ID: "other", SceneID: "s2"}); err != nil {
		t.Fatalf("PutToken(other): %v", err)
	}

	tokens := s.TokensInScene("s1")
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens, want 3", len(tokens))
	}
	for i, want := range []string{"a", "b", "c"} {
		if tokens[i].ID != want {
			t.Fatalf("tokens[%d] = %s, want %s", i, tokens[i].ID, want)
		}
	}
}

func TestRemoveSceneDropsItsTokens(t *testing.T) {
	s := New()
	s.CreateScene(testScene())
	if err := s.PutToken(Token{ID: "t1", SceneID: "s1"}); err != nil {
		t.Fatalf("PutToken: %v", err)
	}

	s.RemoveScene("s1")
	if _, ok := s.Scene("s1"); ok {
		t.Fatal("scene still present")
	}
	if _, ok := s.Token("t1"); ok {
		t.Fatal("scene token still present")
	}
}
