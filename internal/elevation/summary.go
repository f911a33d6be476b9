package elevation

// Summary condenses the observations of one fetch.
type Summary struct {
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	ByStatus  map[Status]int `json:"byStatus"`
	Best      *Observation   `json:"best,omitempty"`
}

// Summarize counts observations by status and picks the best ok observation: the one with
// the finest reported resolution, earlier observations winning ties. An ok observation
// without a resolution ranks after every one that has one.
func Summarize(observations []Observation) Summary {
	s := Summary{
		Attempted: len(observations),
		ByStatus:  make(map[Status]int),
	}

	for i := range observations {
		obs := observations[i]
		s.ByStatus[obs.Status]++
		if !obs.OK() {
			continue
		}
		s.Succeeded++
		if s.Best == nil || finer(obs, *s.Best) {
			best := obs
			s.Best = &best
		}
	}
	return s
}

func finer(a, b Observation) bool {
	switch {
	case a.ResolutionMeters == nil:
		return false
	case b.ResolutionMeters == nil:
		return true
	default:
		return *a.ResolutionMeters < *b.ResolutionMeters
	}
}
