package model

import "time"

type OpKind string

const (
	OpUpsert OpKind = "upsert"
	OpDelete OpKind = "delete"
)

// PendingOp is one queued remote write. Payload is the full task snapshot
// taken when the local mutation happened.
type PendingOp struct {
	Seq         int64
	TaskID      string
	Kind        OpKind
	Payload     Task
	Attempts    int
	NextRetryAt *time.Time
	LastError   string
	EnqueuedAt  time.Time
}

// SyncCursor marks how far remote changes have been pulled. LastPulledAt is
// the remote store's own modification time of the newest change seen, never
// a device clock.
type SyncCursor struct {
	UserID       string
	LastPulledAt time.Time
}

// RemoteChange is a task as the remote store holds it. ModifiedAt is stamped
// by the remote on every accepted write and only moves forward, so a write
// carrying an old UpdatedAt still sorts after earlier pulls.
type RemoteChange struct {
	Task       Task
	ModifiedAt time.Time
}

// StreakState counts consecutive days with at least one task added.
// LastTaskAddedDay is a YYYY-MM-DD day in ReferenceZone, empty when unset.
type StreakState struct {
	StreakDays       int
	LastTaskAddedDay string
}
