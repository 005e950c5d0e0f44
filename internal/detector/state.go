package detector

type ModelState int

const (
	ModelUnloaded ModelState = iota
	ModelLoaded
	ModelLoadFailed
)

func (s ModelState) String() string {
	switch s {
	case ModelLoaded:
		return "loaded"
	case ModelLoadFailed:
		return "load_failed"
	default:
		return "unloaded"
	}
}

type State int

const (
	StateIdle State = iota
	StateDetecting
)

func (s State) String() string {
	if s == StateDetecting {
		return "detecting"
	}
	return "idle"
}

// isValidTransition проверяет допустимость перехода между состояниями детекции
func isValidTransition(current, next State) bool {
	transitions := map[State][]State{
		StateIdle:      {StateDetecting},
		StateDetecting: {StateIdle},
	}

	for _, allowed := range transitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}
