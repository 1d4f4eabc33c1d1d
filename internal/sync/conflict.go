package sync

import "time"

// ConflictError reports a rejected save. It carries the stored server state
// so clients can drive a merge UI without a second round trip.
type ConflictError struct {
	ServerVersion   int64
	ServerData      []byte
	ServerUpdatedAt time.Time
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return "sync: version conflict with stored document"
}

// checkConflict decides whether an incoming save may proceed against the
// stored document. The rule is strict: only a stored version strictly greater
// than the supplied one rejects the write, so a client re-sending its own
// version is accepted. Force bypasses the check entirely.
//
// The decision is made on a snapshot read taken before the save transaction
// opens; a writer racing between this read and the transaction can slip past
// the check. That window is accepted: the backup written inside the
// transaction preserves whatever state the race overwrites.
func checkConflict(existing *Document, suppliedVersion int64, force bool) *ConflictError {
	if existing == nil || force {
		return nil
	}
	if existing.Version > suppliedVersion {
		return &ConflictError{
			ServerVersion:   existing.Version,
			ServerData:      []byte(existing.Content),
			ServerUpdatedAt: time.Unix(existing.UpdatedAtSeconds, 0).UTC(),
		}
	}
	return nil
}
