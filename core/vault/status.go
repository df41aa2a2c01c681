package vault

type Status string

const (
	Active    Status = "ACTIVE"
	Expired   Status = "EXPIRED"
	Completed Status = "COMPLETED"
	Cancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	Active:  {Expired, Completed, Cancelled},
	Expired: {Completed, Cancelled},
}

func (s Status) Valid() bool {
	switch s {
	case Active, Expired, Completed, Cancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == Completed || s == Cancelled
}

// CanTransition reports whether the backend may move a cart from s to next.
// Nothing ever returns to Active.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
