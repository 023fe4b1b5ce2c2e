package service

import "teams_archiver/internal/domain"

// decide routes a remote descriptor against the current index record.
// The comparison is a byte-for-byte fingerprint match, never time-based,
// and the decision is deterministic for identical inputs.
//
// No record means first sighting. A matching fingerprint is the dominant
// steady-state path and performs no further I/O. A differing fingerprint
// means the stored object must be preserved under a backup key before the
// new content replaces it.
func decide(remote domain.RemoteFile, existing *domain.ArchivedFile) domain.Action {
	if existing == nil {
		return domain.ActionDownload
	}
	if existing.Fingerprint == remote.Fingerprint {
		return domain.ActionSkip
	}
	return domain.ActionConflictRename
}
