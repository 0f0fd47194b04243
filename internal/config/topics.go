package config

const (
	// TopicSyncWake is the NSQ topic that nudges idle sync workers after a job is enqueued.
	// It carries the queue name only; job state never leaves Postgres.
	TopicSyncWake = "index.sync.wake"
)
