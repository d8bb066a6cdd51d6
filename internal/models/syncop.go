package models

import "time"

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpDead      OpStatus = "dead"
	OpDismissed OpStatus = "dismissed"
)

// SyncOperation is a durable record of one write that still has to reach
// the remote store. Payload holds the encoded local document.
type SyncOperation struct {
	OperationID   string
	EntityKind    Kind
	EntityID      string
	OwnerID       string
	Action        Action
	Payload       []byte
	CreatedAt     time.Time
	RetryCount    int
	LastAttemptAt *time.Time
	LastError     string
	NextAttemptAt time.Time
	Status        OpStatus
	// DependsOn lists temporary ids this operation needs created first.
	DependsOn []Ref
}

func (op SyncOperation) Ref() Ref {
	return Ref{Kind: op.EntityKind, ID: op.EntityID}
}
