package durable

import "sync"

// Stats holds the counters of the durable tier. Disabled-tier operations
// and Has checks count nothing.
//
// Deletes counts removal operations, not removed entries: one per Forget
// that removed something and one per successful tag flush regardless of
// how many entries the flush swept.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Sets    uint64
	Deletes uint64
	Clears  uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// muState guards the enabled flag and the counters.
type muState struct {
	sync.Mutex
	stats Stats
}

func (m *muState) countHit() {
	m.Lock()
	m.stats.Hits++
	m.Unlock()
}

func (m *muState) countMiss() {
	m.Lock()
	m.stats.Misses++
	m.Unlock()
}

func (m *muState) countSet() {
	m.Lock()
	m.stats.Sets++
	m.Unlock()
}

func (m *muState) countDelete() {
	m.Lock()
	m.stats.Deletes++
	m.Unlock()
}

func (m *muState) countClear() {
	m.Lock()
	m.stats.Clears++
	m.Unlock()
}

func (m *muState) snapshot() Stats {
	m.Lock()
	defer m.Unlock()
	return m.stats
}

func (m *muState) reset() {
	m.Lock()
	m.stats = Stats{}
	m.Unlock()
}
