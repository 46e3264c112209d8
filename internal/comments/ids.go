package comments

import (
	"sync"
	"time"
)

// IDSource issues comment ids. Ids stay millisecond timestamps when the clock
// allows it, so they sort by recency and line up with ids written by older
// clients, but never repeat: each id is larger than both the last one issued
// and every id already present in the forest it is issued for.
type IDSource struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewIDSource returns a source driven by now; nil means time.Now.
func NewIDSource(now func() time.Time) *IDSource {
	if now == nil {
		now = time.Now
	}
	return &IDSource{now: now}
}

// Next returns an id unique within forest.
func (s *IDSource) Next(forest Forest) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.now().UnixMilli()
	if floor := s.last + 1; id < floor {
		id = floor
	}
	if floor := MaxID(forest) + 1; id < floor {
		id = floor
	}
	s.last = id
	return id
}
