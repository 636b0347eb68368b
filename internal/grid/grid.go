package grid

import "math"

// SnapMode selects how token coordinates are aligned to the scene grid.
type SnapMode string

const (
	// SnapCorner rounds coordinates to the nearest cell corner.
	SnapCorner SnapMode = "corner"
	// SnapFree disables alignment; coordinates are kept as sent.
	SnapFree SnapMode = "free"
)

const defaultCellSize = 50.0

// Settings describes the visual grid of a scene. The zero value is usable:
// cell size falls back to the default and snapping is corner-aligned.
type Settings struct {
	CellSize float64  `json:"cellSize"`
	OffsetX  float64  `json:"offsetX"`
	OffsetY  float64  `json:"offsetY"`
	SnapMode SnapMode `json:"snapMode,omitempty"`
}

func (s Settings) cellSize() float64 {
	if s.CellSize <= 0 {
		return defaultCellSize
	}
	return s.CellSize
}

// Snap aligns a pixel coordinate to the grid described by the settings.
// The transform is idempotent: snapping an already snapped point returns the
// same point.
func Snap(x, y float64, s Settings) (float64, float64) {
	if s.SnapMode == SnapFree {
		return x, y
	}
	cell := s.cellSize()
	sx := math.Round((x-s.OffsetX)/cell)*cell + s.OffsetX
	sy := math.Round((y-s.OffsetY)/cell)*cell + s.OffsetY
	return sx, sy
}

// PixelToCell converts a pixel coordinate into grid cell indices.
func PixelToCell(x, y float64, s Settings) (int, int) {
	cell := s.cellSize()
	cx := int(math.Floor((x - s.OffsetX) / cell))
	cy := int(math.Floor((y - s.OffsetY) / cell))
	return cx, cy
}

// CellToPixel converts grid cell indices back into the pixel coordinate of
// the cell's top-left corner. It is the inverse of PixelToCell for cell
// corners.
func CellToPixel(cx, cy int, s Settings) (float64, float64) {
	cell := s.cellSize()
	return float64(cx)*cell + s.OffsetX, float64(cy)*cell + s.OffsetY
}

// Clamp constrains a coordinate to the inclusive range [0, max] on each axis.
// Scenes clamp token positions before snapping so out-of-range moves land on
// the nearest edge cell instead of leaving the board.
func Clamp(x, y, maxX, maxY float64) (float64, float64) {
	return clampAxis(x, maxX), clampAxis(y, maxY)
}

func clampAxis(value, max float64) float64 {
	if value < 0 {
		return 0
	}
	if max > 0 && value > max {
		return max
	}
	return value
}
