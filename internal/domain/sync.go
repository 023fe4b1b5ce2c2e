package domain

import "time"

// ItemState is the terminal state of one discovered file in a run.
type ItemState string

const (
	ItemSkipped   ItemState = "skipped"
	ItemCommitted ItemState = "committed"
	ItemFailed    ItemState = "failed"
)

// Action is the change detector's decision for one descriptor.
type Action int

const (
	// ActionSkip means the stored fingerprint matches the remote one;
	// no I/O is performed for the item.
	ActionSkip Action = iota
	// ActionDownload means the file has never been archived.
	ActionDownload
	// ActionConflictRename means the file was archived before with a
	// different fingerprint; the stored object is backed up before the
	// new content is written to the canonical key.
	ActionConflictRename
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionDownload:
		return "download"
	case ActionConflictRename:
		return "conflict-rename"
	default:
		return "unknown"
	}
}

// ItemFailure records one failed item for later manual inspection.
type ItemFailure struct {
	RemoteID string
	Name     string
	Kind     ErrorKind
	Err      string
}

// RunStats aggregates terminal states across one pipeline run.
// Partial success is the expected common case: failures are listed
// per item and never collapse into a single aggregate error.
type RunStats struct {
	Discovered int
	Skipped    int
	New        int
	Updated    int
	Committed  int
	Published  int
	Failed     int
	Failures   []ItemFailure
	Duration   time.Duration
}

// Degraded reports whether the run discovered work but committed nothing
// because the remote was unreachable. Such a run is reported rather than
// passing as a silent no-op.
func (s *RunStats) Degraded() bool {
	if s.Discovered == 0 || s.Committed > 0 {
		return false
	}
	for _, f := range s.Failures {
		if f.Kind == RemoteUnavailable || f.Kind == RemoteRateLimited {
			return true
		}
	}
	return false
}
