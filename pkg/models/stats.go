package models

// RunStats represents aggregate deployment history statistics
type RunStats struct {
	TotalRuns  int64
	OKRuns     int64
	FailedRuns int64
	TotalFiles int64
	TotalBytes int64
}
