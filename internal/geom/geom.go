package geom

import "math"

// Vec is a 2D point or direction in pixel space.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the component-wise sum of two vectors.
func (v Vec) Add(o Vec) Vec {
	return Vec{X: v.X + o.X, Y: v.Y + o.Y}
}

// Scale returns the vector multiplied by a scalar.
func (v Vec) Scale(f float64) Vec {
	return Vec{X: v.X * f, Y: v.Y * f}
}

// Dist returns the Euclidean distance between two points.
func Dist(a, b Vec) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Kind identifies the geometry of an area shape.
type Kind string

const (
	KindCircle Kind = "circle"
	KindRect   Kind = "rect"
	KindCone   Kind = "cone"
	KindLine   Kind = "line"
)

// Shape describes an area-of-effect region. Which fields matter depends on
// Kind: circles use Radius; rectangles use Width/Height; cones use Radius,
// HalfAngle and Origin; lines use Length, Width and Origin, with the region
// extending from Origin toward the shape's center point.
type Shape struct {
	Kind      Kind    `json:"kind"`
	Radius    float64 `json:"radius,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
	Length    float64 `json:"length,omitempty"`
	HalfAngle float64 `json:"halfAngle,omitempty"`
	Origin    Vec     `json:"origin,omitempty"`
}

// Valid reports whether the shape carries the geometry its kind requires.
func (s Shape) Valid() bool {
	switch s.Kind {
	case KindCircle:
		return s.Radius > 0
	case KindRect:
		return s.Width > 0 && s.Height > 0
	case KindCone:
		return s.Radius > 0 && s.HalfAngle > 0
	case KindLine:
		return s.Length > 0 && s.Width > 0
	default:
		return false
	}
}

// Contains reports whether a candidate point falls inside the shape placed at
// the given center. It is deterministic and side-effect free; callers run it
// after a spatial-index query to confirm the coarse candidates exactly.
func Contains(s Shape, center, point Vec) bool {
	switch s.Kind {
	case KindCircle:
		return CircleContains(center, s.Radius, point)
	case KindRect:
		return RectContains(center, s.Width, s.Height, point)
	case KindCone:
		return ConeContains(s.Origin, center, s.Radius, s.HalfAngle, point)
	case KindLine:
		return LineContains(s.Origin, center, s.Length, s.Width, point)
	default:
		return false
	}
}

// CircleContains reports whether the point lies within radius of the center.
func CircleContains(center Vec, radius float64, point Vec) bool {
	return Dist(center, point) <= radius
}

// RectContains reports whether the point lies inside an axis-aligned
// rectangle of the given width and height centered on center.
func RectContains(center Vec, width, height float64, point Vec) bool {
	return math.Abs(point.X-center.X) <= width/2 &&
		math.Abs(point.Y-center.Y) <= height/2
}

// ConeContains reports whether the point lies inside a cone cast from origin
// toward center. The point qualifies when it is within radius of the origin
// and the angle between origin→center and origin→point does not exceed
// halfAngle.
func ConeContains(origin, center Vec, radius, halfAngle float64, point Vec) bool {
	if Dist(origin, point) > radius {
		return false
	}
	aim := math.Atan2(center.Y-origin.Y, center.X-origin.X)
	at := math.Atan2(point.Y-origin.Y, point.X-origin.X)
	return math.Abs(normalizeAngle(at-aim)) <= halfAngle
}

// LineContains reports whether the point lies within width/2 of the segment
// running from origin toward target, up to the given length.
func LineContains(origin, target Vec, length, width float64, point Vec) bool {
	dx := target.X - origin.X
	dy := target.Y - origin.Y
	mag := math.Hypot(dx, dy)
	if mag == 0 {
		return Dist(origin, point) <= width/2
	}
	ux := dx / mag
	uy := dy / mag
	proj := (point.X-origin.X)*ux + (point.Y-origin.Y)*uy
	if proj < 0 || proj > length {
		return false
	}
	perp := math.Abs((point.X-origin.X)*uy - (point.Y-origin.Y)*ux)
	return perp <= width/2
}

// CircleRectOverlap reports whether a circle intersects an axis-aligned
// rectangle given by its top-left corner and size.
func CircleRectOverlap(cx, cy, radius, rx, ry, rw, rh float64) bool {
	closestX := clamp(cx, rx, rx+rw)
	closestY := clamp(cy, ry, ry+rh)
	dx := cx - closestX
	dy := cy - closestY
	return dx*dx+dy*dy <= radius*radius
}

// BoundingBox returns the top-left corner and size of the axis-aligned box
// enclosing the shape placed at center. The spatial index tracks effects by
// this footprint.
func BoundingBox(s Shape, center Vec) (x, y, w, h float64) {
	switch s.Kind {
	case KindCircle, KindCone:
		return center.X - s.Radius, center.Y - s.Radius, s.Radius * 2, s.Radius * 2
	case KindRect:
		return center.X - s.Width/2, center.Y - s.Height/2, s.Width, s.Height
	case KindLine:
		minX := math.Min(s.Origin.X, center.X) - s.Width/2
		minY := math.Min(s.Origin.Y, center.Y) - s.Width/2
		maxX := math.Max(s.Origin.X, center.X) + s.Width/2
		maxY := math.Max(s.Origin.Y, center.Y) + s.Width/2
		return minX, minY, maxX - minX, maxY - minY
	default:
		return center.X, center.Y, 0, 0
	}
}

// normalizeAngle wraps an angle into [-π, π].
func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Lerp interpolates linearly between a and b by t in [0, 1].
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Clamp01 constrains t to [0, 1].
func Clamp01(t float64) float64 {
	return clamp(t, 0, 1)
}
