package cache

// Stats is a consistent snapshot of cache counters. Hits, Misses and
// Evictions are lifetime counters; Size is the current live entry count.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// HitRate returns the lifetime hit rate in percent, or zero when no lookups
// have happened yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
