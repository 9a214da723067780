package models

import "time"

// RunRecord is one row in the deployment history journal.
type RunRecord struct {
	ID          int64
	Port        string
	Package     string
	Project     string
	Status      string
	Error       string
	FilesPushed int64
	BytesPushed int64
	StartedAt   time.Time
	Duration    time.Duration
}

// Run status values stored in the journal.
const (
	RunStatusOK     = "ok"
	RunStatusFailed = "failed"
)
