package ephemeral

// Stats holds the operation counters of one cache tier.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Sets    uint64
	Deletes uint64
	Clears  uint64
}

// HitRate returns hits/(hits+misses), or 0 when nothing has been read yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Add returns the element-wise sum of two counter sets.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Hits:    s.Hits + o.Hits,
		Misses:  s.Misses + o.Misses,
		Sets:    s.Sets + o.Sets,
		Deletes: s.Deletes + o.Deletes,
		Clears:  s.Clears + o.Clears,
	}
}
