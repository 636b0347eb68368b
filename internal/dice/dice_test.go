package dice

import (
	"errors"
	"math/rand"
	"testing"
)

func TestEvalExpressions(t *testing.T) {
	cases := []struct {
		name  string
		expr  string
		count int
		mod   int
	}{
		{name: "plain", expr: "2d6", count: 2},
		{name: "with plus", expr: "3d8+5", count: 3, mod: 5},
		{name: "with minus", expr: "1d20-2", count: 1, mod: -2},
		{name: "implicit count", expr: "d4", count: 1},
		{name: "spaces and case", expr: " 2D6 + 1 ", count: 2, mod: 1},
	}

	rng := rand.New(rand.NewSource(42))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roll, err := Eval(tc.expr, rng)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tc.expr, err)
			}
			if len(roll.Rolls) != tc.count {
				t.Fatalf("rolled %d dice, want %d", len(roll.Rolls), tc.count)
			}
			if roll.Modifier != tc.mod {
				t.Fatalf("modifier = %d, want %d", roll.Modifier, tc.mod)
			}
			sum := roll.Modifier
			for _, face := range roll.Rolls {
				if face < 1 {
					t.Fatalf("die face %d below 1", face)
				}
				sum += face
			}
			if sum != roll.Total {
				t.Fatalf("total %d does not match faces+modifier %d", roll.Total, sum)
			}
		})
	}
}

func TestEvalDeterministicWithSeed(t *testing.T) {
	a, err := Eval("4d6", rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	b, err := Eval("4d6", rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if a.Total != b.Total {
		t.Fatalf("same seed produced different totals: %d vs %d", a.Total, b.Total)
	}
}

func TestEvalRejectsBadExpressions(t *testing.T) {
	bad := []string{"", "abc", "2x6", "0d6", "2d1", "2d", "d", "101d6", "2d2000", "2d6++1"}
	for _, expr := range bad {
		if _, err := Eval(expr, nil); !errors.Is(err, ErrBadExpression) {
			t.Fatalf("Eval(%q) err = %v, want ErrBadExpression", expr, err)
		}
	}
}
