package collision

import (
	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/internal/hash"
)

// Tracker assigns catalog positions to metric names and resolves names back to positions by
// their xxHash64 ID.
//
// The common case is a single map lookup keyed by ID. When two distinct names share an ID the
// later one is kept in an overflow map keyed by name, so lookups stay correct at the cost of a
// second map probe for colliding names.
type Tracker struct {
	byID         map[uint64]int // ID → position of the first name with that ID
	overflow     map[string]int // Name → position, only for names whose ID collided
	names        []string       // Catalog order
	hasCollision bool
}

// NewTracker creates a new collision tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byID:  make(map[uint64]int),
		names: make([]string, 0),
	}
}

// TrackMetric appends name to the catalog and returns its position.
//
// Returns errs.ErrInvalidMetricName for an empty name and errs.ErrDuplicateMetric when the
// name is already tracked; a duplicate keeps its first position. A hash collision between
// distinct names is not an error.
func (t *Tracker) TrackMetric(name string) (int, error) {
	if name == "" {
		return -1, errs.ErrInvalidMetricName
	}

	id := hash.ID(name)
	pos := len(t.names)

	if existing, ok := t.byID[id]; ok {
		if t.names[existing] == name {
			return existing, errs.ErrDuplicateMetric
		}

		if prev, ok := t.overflow[name]; ok {
			return prev, errs.ErrDuplicateMetric
		}

		t.hasCollision = true
		if t.overflow == nil {
			t.overflow = make(map[string]int)
		}
		t.overflow[name] = pos
	} else {
		t.byID[id] = pos
	}

	t.names = append(t.names, name)

	return pos, nil
}

// Lookup returns the catalog position of name.
func (t *Tracker) Lookup(name string) (int, bool) {
	if pos, ok := t.byID[hash.ID(name)]; ok && t.names[pos] == name {
		return pos, true
	}

	if t.hasCollision {
		pos, ok := t.overflow[name]
		return pos, ok
	}

	return -1, false
}

// HasCollision returns true if two tracked names share an ID.
func (t *Tracker) HasCollision() bool {
	return t.hasCollision
}

// GetMetricNames returns the tracked names in catalog order.
func (t *Tracker) GetMetricNames() []string {
	return t.names
}

// Count returns the number of tracked metrics.
func (t *Tracker) Count() int {
	return len(t.names)
}

// Reset clears all tracked metrics and collision state, keeping allocated capacity.
func (t *Tracker) Reset() {
	clear(t.byID)
	clear(t.overflow)
	t.names = t.names[:0]
	t.hasCollision = false
}
