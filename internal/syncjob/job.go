// Package syncjob is the durable queue of search-index synchronization jobs.
//
// Jobs live in the same Postgres database as the records they describe. The
// Store owns every lifecycle transition; workers only claim jobs and report
// outcomes through Queue.
package syncjob

import (
	"encoding/json"
	"time"
)

type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// State is the persisted lifecycle state of a job. Completed jobs are
// removed from the store, so StateCompleted is only ever reported, never stored.
type State string

const (
	StateCreated      State = "created"
	StateActive       State = "active"
	StateCompleted    State = "completed"
	StateDeadLettered State = "dead_lettered"
)

const (
	EntitySegment = "segment"
	EntityMedia   = "media"
)

// Default queue names, one per entity type.
const (
	QueueSegment = "segment"
	QueueMedia   = "media"
)

type Job struct {
	ID            string          `json:"jobId"`
	Queue         string          `json:"queue"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Version       int64           `json:"version"`
	State         State           `json:"state"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	ErrorClass    ErrorClass      `json:"errorClass,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	RunAt         time.Time       `json:"runAt"`
	ClaimedAt     *time.Time      `json:"claimedAt,omitempty"`
	FailedAt      *time.Time      `json:"failedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdOn"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Stats is the read-only view of one queue. Pending counts every job that is
// not finished (waiting or claimed).
type Stats struct {
	Queue           string     `json:"queue"`
	Pending         int        `json:"pending"`
	Active          int        `json:"active"`
	Failed          int        `json:"failed"`
	OldestPendingAt *time.Time `json:"oldestPendingAt,omitempty"`
}

// Waiting is the number of pending jobs not yet claimed by a worker.
func (s Stats) Waiting() int {
	return s.Pending - s.Active
}
