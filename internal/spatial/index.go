package spatial

import "math"

const defaultCellSize = 64.0

type cellKey struct {
	X int
	Y int
}

type entry struct {
	cells []cellKey
}

type sceneBuckets struct {
	cells   map[cellKey][]string
	entries map[string]*entry
}

// Index maps grid cells to the entity ids occupying them, bucketed per scene.
// The indexing cell size is fixed at construction and independent of any
// scene's visual grid. The index is not safe for concurrent use; each session
// mutates it from its own serialized path.
type Index struct {
	cellSize    float64
	invCellSize float64
	scenes      map[string]*sceneBuckets
}

// NewIndex constructs an index with the given cell size. Non-positive sizes
// fall back to the default.
func NewIndex(cellSize float64) *Index {
	if cellSize <= 0 {
		cellSize = defaultCellSize
	}
	return &Index{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		scenes:      make(map[string]*sceneBuckets),
	}
}

// Update places an entity's bounding box into the index, replacing any cells
// it previously occupied. It must be called on every creation and move.
func (idx *Index) Update(sceneID, entityID string, x, y, w, h float64) {
	if idx == nil || sceneID == "" || entityID == "" {
		return
	}
	scene := idx.scenes[sceneID]
	if scene == nil {
		scene = &sceneBuckets{
			cells:   make(map[cellKey][]string),
			entries: make(map[string]*entry),
		}
		idx.scenes[sceneID] = scene
	}

	newCells := idx.cellsForBox(x, y, w, h)
	if prev, ok := scene.entries[entityID]; ok {
		scene.removeFromCells(entityID, prev.cells)
	}
	scene.entries[entityID] = &entry{cells: newCells}
	for _, cell := range newCells {
		scene.cells[cell] = append(scene.cells[cell], entityID)
	}
}

// Remove purges an entity from every bucket it occupies. Removing an absent
// entity is a no-op.
func (idx *Index) Remove(sceneID, entityID string) {
	if idx == nil || entityID == "" {
		return
	}
	scene := idx.scenes[sceneID]
	if scene == nil {
		return
	}
	prev, ok := scene.entries[entityID]
	if !ok {
		return
	}
	scene.removeFromCells(entityID, prev.cells)
	delete(scene.entries, entityID)
	if len(scene.entries) == 0 {
		delete(idx.scenes, sceneID)
	}
}

// RemoveScene drops every entry for a scene.
func (idx *Index) RemoveScene(sceneID string) {
	if idx == nil {
		return
	}
	delete(idx.scenes, sceneID)
}

// Query returns the ids of entities whose buckets fall within radius of the
// point. The result is a conservative superset: entities near cell boundaries
// may be included even when outside the radius, so callers confirm candidates
// with exact geometry afterward. An unknown scene yields an empty result.
func (idx *Index) Query(sceneID string, x, y, radius float64) []string {
	if idx == nil {
		return nil
	}
	scene := idx.scenes[sceneID]
	if scene == nil {
		return nil
	}

	reach := int(math.Ceil(radius * idx.invCellSize))
	if reach < 0 {
		reach = 0
	}
	centerX := idx.coordToCell(x)
	centerY := idx.coordToCell(y)

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for row := centerY - reach; row <= centerY+reach; row++ {
		for col := centerX - reach; col <= centerX+reach; col++ {
			for _, id := range scene.cells[cellKey{X: col, Y: row}] {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Contains reports whether the entity is currently tracked in the scene.
func (idx *Index) Contains(sceneID, entityID string) bool {
	if idx == nil {
		return false
	}
	scene := idx.scenes[sceneID]
	if scene == nil {
		return false
	}
	_, ok := scene.entries[entityID]
	return ok
}

func (s *sceneBuckets) removeFromCells(entityID string, cells []cellKey) {
	for _, cell := range cells {
		bucket := s.cells[cell]
		if len(bucket) == 0 {
			continue
		}
		for i := range bucket {
			if bucket[i] != entityID {
				continue
			}
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
		if len(bucket) == 0 {
			delete(s.cells, cell)
		} else {
			s.cells[cell] = bucket
		}
	}
}

func (idx *Index) cellsForBox(x, y, w, h float64) []cellKey {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	minX := idx.coordToCell(x)
	minY := idx.coordToCell(y)
	maxX := idx.coordToCell(x + w)
	maxY := idx.coordToCell(y + h)
	cells := make([]cellKey, 0, (maxX-minX+1)*(maxY-minY+1))
	for row := minY; row <= maxY; row++ {
		for col := minX; col <= maxX; col++ {
			cells = append(cells, cellKey{X: col, Y: row})
		}
	}
	return cells
}

func (idx *Index) coordToCell(value float64) int {
	return int(math.Floor(value * idx.invCellSize))
}
