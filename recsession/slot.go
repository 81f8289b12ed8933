package recsession

// slotState is the state of a handle slot.
type slotState int

const (
	slotAbsent slotState = iota
	slotActive
)

// slot holds at most one active handle of a kind.
type slot[R Resource] struct {
	state slotState
	path  string
	res   R
}

// activate stores a new handle. The slot must be absent.
func (s *slot[R]) activate(path string, res R) {
	if s.state == slotActive {
		panic("recsession: activating an already active slot")
	}
	s.state = slotActive
	s.path = path
	s.res = res
}

// take clears the slot and returns the handle it held, if any.
func (s *slot[R]) take() (path string, res R, ok bool) {
	if s.state != slotActive {
		return "", res, false
	}
	path, res = s.path, s.res
	var zero R
	*s = slot[R]{state: slotAbsent, res: zero}
	return path, res, true
}

// HandleState is a snapshot of a handle slot.
type HandleState struct {
	Active bool   `json:"active"`
	Path   string `json:"path,omitempty"`
}

func (s *slot[R]) snapshot() HandleState {
	if s.state != slotActive {
		return HandleState{}
	}
	return HandleState{Active: true, Path: s.path}
}
