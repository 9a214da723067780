package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbagtwo/fbsync/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "fbsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordAndListRuns(t *testing.T) {
	db := openTestDB(t)

	first := &models.RunRecord{
		Port:        "/dev/ttyACM0",
		Package:     "hello_neopixel",
		Project:     "ghast",
		Status:      models.RunStatusOK,
		FilesPushed: 10,
		BytesPushed: 4096,
		StartedAt:   time.Now().Add(-time.Minute),
		Duration:    42 * time.Second,
	}
	second := &models.RunRecord{
		Port:      "/dev/ttyACM0",
		Package:   "hello_neopixel",
		Status:    models.RunStatusFailed,
		Error:     "push package failed: device put: ENOSPC",
		StartedAt: time.Now(),
		Duration:  3 * time.Second,
	}
	require.NoError(t, db.RecordRun(first))
	require.NoError(t, db.RecordRun(second))

	runs, err := db.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "ENOSPC")
	assert.Equal(t, models.RunStatusOK, runs[1].Status)
	assert.Equal(t, "ghast", runs[1].Project)
	assert.EqualValues(t, 10, runs[1].FilesPushed)
	assert.Equal(t, 42*time.Second, runs[1].Duration)
}

func TestRecentRunsHonorsLimit(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordRun(&models.RunRecord{
			Port:      "/dev/ttyACM0",
			Package:   "hello_neopixel",
			Status:    models.RunStatusOK,
			StartedAt: time.Now(),
		}))
	}

	runs, err := db.RecentRuns(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordRun(&models.RunRecord{
		Status: models.RunStatusOK, FilesPushed: 7, BytesPushed: 700, StartedAt: time.Now(),
	}))
	require.NoError(t, db.RecordRun(&models.RunRecord{
		Status: models.RunStatusOK, FilesPushed: 3, BytesPushed: 300, StartedAt: time.Now(),
	}))
	require.NoError(t, db.RecordRun(&models.RunRecord{
		Status: models.RunStatusFailed, StartedAt: time.Now(),
	}))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalRuns)
	assert.EqualValues(t, 2, stats.OKRuns)
	assert.EqualValues(t, 1, stats.FailedRuns)
	assert.EqualValues(t, 10, stats.TotalFiles)
	assert.EqualValues(t, 1000, stats.TotalBytes)
}

func TestEmptyJournalStats(t *testing.T) {
	db := openTestDB(t)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.TotalRuns)

	runs, err := db.RecentRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
