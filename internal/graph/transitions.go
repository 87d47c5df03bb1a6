package graph

// validTransitions defines the legal state transitions. Cancellation may move
// any non-terminal state to failed.
var validTransitions = map[StateName]map[StateName]bool{
	StateStart:     {StateGateCheck: true, StateFailed: true},
	StateGateCheck: {StateOffTopic: true, StateClassify: true, StateFailed: true},
	StateClassify:  {StateRetrieve: true, StateFailed: true},
	StateRetrieve:  {StateGenerate: true, StateFailed: true},
	StateGenerate:  {StateGrade: true, StateFailed: true},
	StateGrade:     {StateResolved: true, StateRewrite: true, StateExhausted: true, StateFailed: true},
	// Rewrite -> Classify is only taken when reclassification is enabled.
	StateRewrite: {StateRetrieve: true, StateClassify: true, StateFailed: true},
}

// IsValidTransition checks if a state transition is legal.
func IsValidTransition(from, to StateName) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
