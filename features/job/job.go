package job

import (
	"time"

	"mediasearch/backend/internal/syncjob"
)

// FailedJob is the operator view of a dead-lettered sync job.
type FailedJob struct {
	ID         string             `json:"jobId"`
	EntityType string             `json:"entityType"`
	EntityID   string             `json:"entityId"`
	Operation  syncjob.Operation  `json:"operation"`
	Attempts   int                `json:"attempts"`
	ErrorClass syncjob.ErrorClass `json:"errorClass,omitempty"`
	LastError  string             `json:"lastError"`
	CreatedAt  time.Time          `json:"createdOn"`
	FailedAt   *time.Time         `json:"failedAt,omitempty"`
}

func fromJob(j syncjob.Job) FailedJob {
	return FailedJob{
		ID:         j.ID,
		EntityType: j.EntityType,
		EntityID:   j.EntityID,
		Operation:  j.Operation,
		Attempts:   j.Attempts,
		ErrorClass: j.ErrorClass,
		LastError:  j.LastError,
		CreatedAt:  j.CreatedAt,
		FailedAt:   j.FailedAt,
	}
}

// QueueDetails extends the queue counters with the stuck flag raised by the monitor.
type QueueDetails struct {
	syncjob.Stats
	Waiting int  `json:"waiting"`
	Stuck   bool `json:"stuck"`
}
