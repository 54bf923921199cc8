package push

// State is a step of the push state machine:
//
//	Idle → ReadingRef → WritingBlobs → ComposingTree → WritingCommit → UpdatingRef → Done
//
// Failed is reachable from every state.
type State int

// Push states.
const (
	StateIdle State = iota
	StateReadingRef
	StateWritingBlobs
	StateComposingTree
	StateWritingCommit
	StateUpdatingRef
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateReadingRef:    "reading_ref",
	StateWritingBlobs:  "writing_blobs",
	StateComposingTree: "composing_tree",
	StateWritingCommit: "writing_commit",
	StateUpdatingRef:   "updating_ref",
	StateDone:          "done",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
