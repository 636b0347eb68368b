package grid

import "testing"

func TestSnapRoundsToNearestCorner(t *testing.T) {
	cases := []struct {
		name     string
		x, y     float64
		settings Settings
		wantX    float64
		wantY    float64
	}{
		{name: "rounds down and up", x: 53, y: 77, settings: Settings{CellSize: 50}, wantX: 50, wantY: 100},
		{name: "already aligned", x: 150, y: 200, settings: Settings{CellSize: 50}, wantX: 150, wantY: 200},
		{name: "offset grid", x: 60, y: 60, settings: Settings{CellSize: 50, OffsetX: 10, OffsetY: 10}, wantX: 60, wantY: 60},
		{name: "offset rounds", x: 84, y: 37, settings: Settings{CellSize: 50, OffsetX: 10, OffsetY: 10}, wantX: 60, wantY: 60},
		{name: "zero cell size uses default", x: 53, y: 77, settings: Settings{}, wantX: 50, wantY: 100},
		{name: "negative coordinates", x: -30, y: -80, settings: Settings{CellSize: 50}, wantX: -50, wantY: -100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotX, gotY := Snap(tc.x, tc.y, tc.settings)
			if gotX != tc.wantX || gotY != tc.wantY {
				t.Fatalf("Snap(%v, %v) = (%v, %v), want (%v, %v)", tc.x, tc.y, gotX, gotY, tc.wantX, tc.wantY)
			}
		})
	}
}

func TestSnapIdempotent(t *testing.T) {
	grids := []Settings{
		{CellSize: 50},
		{CellSize: 64, OffsetX: 13, OffsetY: 7},
		{CellSize: 25, OffsetX: -5, OffsetY: 12.5},
		{},
	}
	points := [][2]float64{{0, 0}, {53, 77}, {-17, 211.4}, {999.9, 0.1}}

	for _, settings := range grids {
		for _, p := range points {
			x1, y1 := Snap(p[0], p[1], settings)
			x2, y2 := Snap(x1, y1, settings)
			if x1 != x2 || y1 != y2 {
				t.Fatalf("snap not idempotent for %v with %+v: first (%v,%v) second (%v,%v)", p, settings, x1, y1, x2, y2)
			}
		}
	}
}

func TestSnapFreeKeepsRawCoordinates(t *testing.T) {
	settings := Settings{CellSize: 50, SnapMode: SnapFree}
	x, y := Snap(53, 77, settings)
	if x != 53 || y != 77 {
		t.Fatalf("free snap moved point to (%v, %v)", x, y)
	}
}

func TestPixelCellRoundTrip(t *testing.T) {
	settings := Settings{CellSize: 40, OffsetX: 8, OffsetY: -4}
	cx, cy := PixelToCell(130, 90, settings)
	if cx != 3 || cy != 2 {
		t.Fatalf("PixelToCell = (%d, %d), want (3, 2)", cx, cy)
	}
	px, py := CellToPixel(cx, cy, settings)
	if px != 128 || py != 76 {
		t.Fatalf("CellToPixel = (%v, %v), want (128, 76)", px, py)
	}
	rx, ry := PixelToCell(px, py, settings)
	if rx != cx || ry != cy {
		t.Fatalf("round trip diverged: (%d, %d) != (%d, %d)", rx, ry, cx, cy)
	}
}

func TestClamp(t *testing.T) {
	x, y := Clamp(-20, 1500, 1000, 1000)
	if x != 0 || y != 1000 {
		t.Fatalf("Clamp = (%v, %v), want (0, 1000)", x, y)
	}
	x, y = Clamp(400, 600, 1000, 1000)
	if x != 400 || y != 600 {
		t.Fatalf("Clamp moved in-range point to (%v, %v)", x, y)
	}
}
