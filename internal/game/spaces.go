package game

// Discrete is the space {0, ..., N-1}.
type Discrete struct {
	N int `json:"n"`
}

func (d Discrete) Contains(v int) bool {
	return v >= 0 && v < d.N
}

// Tuple is a product of discrete spaces.
type Tuple []Discrete

func (t Tuple) Contains(v []int) bool {
	if len(v) != len(t) {
		return false
	}
	for i, d := range t {
		if !d.Contains(v[i]) {
			return false
		}
	}
	return true
}

var (
	ActionSpace = Discrete{N: NumActions}
	// ObservationSpace covers player sum, dealer card, usable ace and
	// insurance availability.
	ObservationSpace = Tuple{{N: 32}, {N: 11}, {N: 2}, {N: 2}}
)
