package keeper

import (
	"sync"
	"time"
)

// stampSource hands out strictly increasing stamps per entity. Wall clocks
// can stand still or step backwards between two snapshots; the stamp is the
// snapshot's identity and sort key, so collisions are bumped forward by one
// nanosecond instead.
type stampSource struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newStampSource() *stampSource {
	return &stampSource{last: make(map[string]time.Time)}
}

// Next returns a stamp for entityID strictly greater than any stamp it has
// returned before for that entity.
func (s *stampSource) Next(entityID string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := now.UTC()
	if last, ok := s.last[entityID]; ok && !t.After(last) {
		t = last.Add(time.Nanosecond)
	}
	s.last[entityID] = t
	return FormatStamp(t)
}
