package domain

// JobState enumerates the lifecycle of a single generation request.
type JobState string

const (
	JobStateIdle        JobState = "idle"
	JobStateSubmitting  JobState = "submitting"
	JobStatePolling     JobState = "polling"
	JobStateFinalizing  JobState = "finalizing"
	JobStateDownloading JobState = "downloading"
	JobStateDone        JobState = "done"
	JobStateFailed      JobState = "failed"
)

var jobTransitions = map[JobState]JobState{
	JobStateIdle:        JobStateSubmitting,
	JobStateSubmitting:  JobStatePolling,
	JobStatePolling:     JobStateFinalizing,
	JobStateFinalizing:  JobStateDownloading,
	JobStateDownloading: JobStateDone,
}

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

// CanTransition reports whether moving from s to next is legal. Failed is
// reachable from every non-terminal state.
func (s JobState) CanTransition(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStateFailed {
		return true
	}
	return jobTransitions[s] == next
}
