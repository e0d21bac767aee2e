package ghost

import (
	"image"
	"sync"
)

// Region names used by the default table.
const (
	RegionHead  = "head"
	RegionBody  = "body"
	RegionOther = "other"
)

// Region names a rectangle on one surface. Rect is half-open: Min is inside,
// Max is not.
type Region struct {
	Surface int
	Name    string
	Rect    image.Rectangle
}

// RegionTable classifies clicks. Rules added later take precedence.
type RegionTable struct {
	mu    sync.RWMutex
	rules []Region
}

// NewRegionTable creates a table from rules, earlier rules taking precedence.
func NewRegionTable(rules ...Region) *RegionTable {
	t := &RegionTable{}
	for i := len(rules) - 1; i >= 0; i-- {
		t.Add(rules[i])
	}
	return t
}

// DefaultRegions returns the head and body areas of the main character's
// standard surface.
func DefaultRegions() *RegionTable {
	return NewRegionTable(
		Region{Surface: 0, Name: RegionHead, Rect: image.Rect(50, 50, 200, 150)},
		Region{Surface: 0, Name: RegionBody, Rect: image.Rect(50, 150, 200, 400)},
	)
}

// Add inserts a rule ahead of the existing ones.
func (t *RegionTable) Add(r Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append([]Region{r}, t.rules...)
}

// Classify returns the name of the first rule containing the point on surface,
// or RegionOther.
func (t *RegionTable) Classify(surface, x, y int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := image.Pt(x, y)
	for _, r := range t.rules {
		if r.Surface == surface && p.In(r.Rect) {
			return r.Name
		}
	}
	return RegionOther
}
