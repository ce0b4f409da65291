package engine

// Lifecycle lists the state transitions a room may take. Deletion is not a
// state: a closed room simply stops existing.
var Lifecycle = map[State][]State{
	StateWaiting:    {StateInProgress},
	StateInProgress: {},
}

func CanTransition(from, to State) bool {
	for _, s := range Lifecycle[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Joinable reports whether new participants may enter r.
func Joinable(r Room) bool {
	return r.State == StateWaiting
}

// Quorum is derived from the roster on every read and never stored.
type Quorum struct {
	Met      bool `json:"met"`
	Current  int  `json:"currentCount"`
	Required int  `json:"requiredCount"`
}

func ComputeQuorum(r Room) Quorum {
	n := len(r.Participants)
	return Quorum{Met: n >= r.MinParticipants, Current: n, Required: r.MinParticipants}
}
