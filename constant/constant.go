package constant

import "fmt"

type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "SCHEDULED"
	SessionStatusLive       SessionStatus = "LIVE"
	SessionStatusEnded      SessionStatus = "ENDED"
	SessionStatusProcessing SessionStatus = "PROCESSING"
	SessionStatusComplete   SessionStatus = "COMPLETE"
)

func (s SessionStatus) String() string {
	return string(s)
}

// sessionTransitions is the closed transition table for the session
// lifecycle. A status missing from the map accepts no transitions.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusScheduled:  {SessionStatusLive, SessionStatusEnded},
	SessionStatusLive:       {SessionStatusEnded},
	SessionStatusEnded:      {SessionStatusProcessing},
	SessionStatusProcessing: {SessionStatusComplete},
}

// TransitionSources returns every status allowed to move to the given
// status. Conditional status updates derive their guard sets from this,
// so the transition table stays the single authority.
func TransitionSources(to SessionStatus) []SessionStatus {
	var sources []SessionStatus
	for from, nexts := range sessionTransitions {
		for _, next := range nexts {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type InvalidTransitionError struct {
	From SessionStatus
	To   SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

type JobStage string

const (
	JobStageStitch    JobStage = "stitch"
	JobStageTranscode JobStage = "transcode"
	JobStagePublish   JobStage = "publish"
)

func (s JobStage) String() string {
	return string(s)
}

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindVideo || k == MediaKindAudio
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
