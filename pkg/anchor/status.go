package anchor

// Status tracks an anchor through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBuilding  Status = "building"
	StatusPosting   Status = "posting"
	StatusPosted    Status = "posted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// rank orders the forward path pending -> building -> posting -> posted ->
// confirmed. Failed sits outside the path.
var rank = map[Status]int{
	StatusPending:   0,
	StatusBuilding:  1,
	StatusPosting:   2,
	StatusPosted:    3,
	StatusConfirmed: 4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := rank[s]
	return ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed
}

// NonTerminal lists every status reconciliation may act on.
func NonTerminal() []Status {
	return []Status{StatusPending, StatusBuilding, StatusPosting, StatusPosted, StatusFailed}
}

// CanTransition reports whether moving from one status to another respects
// the lifecycle: transitions only move forward along the pending -> confirmed
// path, any status may fail, and failed anchors may be re-queued as pending
// by reconciliation. Confirmed is terminal.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from == StatusConfirmed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	if from == StatusFailed {
		return to == StatusPending
	}
	return rank[to] > rank[from]
}
