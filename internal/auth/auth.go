package auth

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrUnauthorized is returned when a connection token fails validation.
// Connection handlers treat it as fatal to that connection.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Identity is the result of validating a connection credential.
type Identity struct {
	UserID      string
	DisplayName string
	GameMaster  bool
}

// Verifier is the boundary to the external identity service. The real
// implementation lives outside this repo; the core only depends on this
// interface.
type Verifier interface {
	Validate(token, ip, userAgent string) (Identity, error)
}

// Anonymous accepts every connection and mints a fresh user id. It exists
// for explicitly-configured non-production modes; tokens of the form
// "gm:<name>" grant the game-master role so local setups can exercise
// GM-only paths.
type Anonymous struct{}

func (Anonymous) Validate(token, _, _ string) (Identity, error) {
	name := token
	gm := false
	if rest, ok := strings.CutPrefix(token, "gm:"); ok {
		name = rest
		gm = true
	}
	if name == "" {
		name = "anonymous"
	}
	return Identity{
		UserID:      uuid.NewString(),
		DisplayName: name,
		GameMaster:  gm,
	}, nil
}
