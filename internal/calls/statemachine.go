// internal/calls/statemachine.go

package calls

// transitions lists every legal move. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusInitiating: {StatusRinging, StatusCanceled},
	StatusRinging:    {StatusActive, StatusDeclined, StatusMissed},
	StatusActive:     {StatusEnded},
}

// Role constrains which party may drive a transition
type Role int

const (
	RoleEither Role = iota
	RoleCaller
	RoleReceiver
)

var transitionRole = map[Status]Role{
	StatusRinging:  RoleEither,
	StatusCanceled: RoleCaller,
	StatusActive:   RoleReceiver,
	StatusDeclined: RoleReceiver,
	StatusMissed:   RoleEither,
	StatusEnded:    RoleEither,
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusDeclined, StatusMissed, StatusCanceled:
		return true
	}
	return false
}

// IsLive is the complement of IsTerminal for known statuses
func (s Status) IsLive() bool {
	switch s {
	case StatusInitiating, StatusRinging, StatusActive:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	return s.IsLive() || s.IsTerminal()
}

// CanTransition reports whether from -> to is in the table
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EndStatusFor picks the terminal status a hang-up means in the current
// state: cancel before ringing, missed while ringing, ended once active.
func EndStatusFor(current Status) (Status, bool) {
	switch current {
	case StatusInitiating:
		return StatusCanceled, true
	case StatusRinging:
		return StatusMissed, true
	case StatusActive:
		return StatusEnded, true
	}
	return "", false
}

func roleFor(to Status) Role {
	if r, ok := transitionRole[to]; ok {
		return r
	}
	return RoleEither
}
