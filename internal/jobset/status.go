package jobset

// Status is a batch-system job status as carried in a jobset.
//
// NOTE: These values are part of the jobset wire contract.
type Status string

const (
	StatusQueued    Status = "job-queued"
	StatusStarted   Status = "job-started"
	StatusOffline   Status = "job-offline"
	StatusCompleted Status = "job-completed"
	StatusFailed    Status = "job-failed"
	StatusDeduped   Status = "job-deduped"
	StatusTimedOut  Status = "job-timedout" // synthetic: offline + timedout tag
)

// Class groups statuses by how the pipeline treats them.
type Class int

const (
	ClassWaiting Class = iota
	ClassSuccess
	ClassFail
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassFail:
		return "fail"
	default:
		return "waiting"
	}
}

// Statuses lists every recognized status.
var Statuses = []Status{
	StatusQueued, StatusStarted, StatusOffline,
	StatusCompleted,
	StatusFailed, StatusDeduped, StatusTimedOut,
}

// Class returns the status class. Unrecognized statuses are Waiting so that an
// unknown state is never finalized.
func (s Status) Class() Class {
	switch s {
	case StatusCompleted:
		return ClassSuccess
	case StatusFailed, StatusDeduped, StatusTimedOut:
		return ClassFail
	default:
		return ClassWaiting
	}
}

// Known reports whether s is part of the closed status set.
func (s Status) Known() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) IsWaiting() bool  { return s.Class() == ClassWaiting }
func (s Status) IsSuccess() bool  { return s.Class() == ClassSuccess }
func (s Status) IsFail() bool     { return s.Class() == ClassFail }
func (s Status) IsTerminal() bool { return s.Class() != ClassWaiting }
