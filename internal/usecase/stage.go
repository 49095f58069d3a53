package usecase

// Stage is the position a relay invocation reached.
type Stage int

const (
	StageReceived Stage = iota
	StageValidated
	StagePersisted
	StageContextBuilt
	StageGenerated
	StageDelivered
	StageDone
	// StageRejected is terminal and only reachable before StagePersisted.
	StageRejected
)

var stageNames = [...]string{
	StageReceived:     "received",
	StageValidated:    "validated",
	StagePersisted:    "persisted",
	StageContextBuilt: "context_built",
	StageGenerated:    "generated",
	StageDelivered:    "delivered",
	StageDone:         "done",
	StageRejected:     "rejected",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}
