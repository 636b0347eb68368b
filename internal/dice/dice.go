package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// ErrBadExpression is returned for expressions the roller cannot parse.
var ErrBadExpression = errors.New("dice: bad expression")

const (
	maxDice  = 100
	maxSides = 1000
)

// Roll is the result of evaluating a dice expression such as "2d6+3".
type Roll struct {
	Expression string `json:"expression"`
	Rolls      []int  `json:"rolls"`
	Modifier   int    `json:"modifier,omitempty"`
	Total      int    `json:"total"`
}

// Eval parses and rolls an NdM[+/-K] expression using the provided random
// source. A nil source falls back to the shared global source.
func Eval(expression string, rng *rand.Rand) (Roll, error) {
	count, sides, modifier, err := parse(expression)
	if err != nil {
		return Roll{}, err
	}

	roll := Roll{Expression: expression, Modifier: modifier, Rolls: make([]int, 0, count)}
	for i := 0; i < count; i++ {
		var face int
		if rng != nil {
			face = rng.Intn(sides) + 1
		} else {
			face = rand.Intn(sides) + 1
		}
		roll.Rolls = append(roll.Rolls, face)
		roll.Total += face
	}
	roll.Total += modifier
	return roll, nil
}

func parse(expression string) (count, sides, modifier int, err error) {
	expr := strings.ToLower(strings.ReplaceAll(expression, " ", ""))
	if expr == "" {
		return 0, 0, 0, fmt.Errorf("%w: empty", ErrBadExpression)
	}

	body := expr
	if idx := strings.IndexAny(expr, "+-"); idx > 0 {
		body = expr[:idx]
		modifier, err = strconv.Atoi(expr[idx:])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: modifier in %q", ErrBadExpression, expression)
		}
	}

	dIdx := strings.IndexByte(body, 'd')
	if dIdx < 0 {
		return 0, 0, 0, fmt.Errorf("%w: missing die in %q", ErrBadExpression, expression)
	}

	count = 1
	if dIdx > 0 {
		count, err = strconv.Atoi(body[:dIdx])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: count in %q", ErrBadExpression, expression)
		}
	}
	sides, err = strconv.Atoi(body[dIdx+1:])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: sides in %q", ErrBadExpression, expression)
	}

	if count < 1 || count > maxDice {
		return 0, 0, 0, fmt.Errorf("%w: count %d out of range", ErrBadExpression, count)
	}
	if sides < 2 || sides > maxSides {
		return 0, 0, 0, fmt.Errorf("%w: sides %d out of range", ErrBadExpression, sides)
	}
	return count, sides, modifier, nil
}
