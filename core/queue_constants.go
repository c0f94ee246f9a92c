package core

import "time"

// Redis keys and timing defaults of the face-sync queue.
const (
	PendingQueueKey    = "face_sync:pending"
	ProcessingQueueKey = "face_sync:processing"
	// DefaultVisibilityTimeout is how long a reserved job stays invisible to other workers.
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultReclaimInterval   = 15 * time.Second
	DefaultPollInterval      = 100 * time.Millisecond
	// MaxFaceSyncAttempts bounds delivery attempts of one job, the first included.
	MaxFaceSyncAttempts = 4
)
