package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/AdaptBrain/internal/storage"
)

func TestStatsRecordAndReload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	stats := NewStatsService(db)
	require.NoError(t, stats.RecordAPIRequest(100))
	require.NoError(t, stats.RecordAPIRequest(50))

	got := stats.GetUsageStats()
	assert.Equal(t, 2, got.TodayRequests)
	assert.Equal(t, 150, got.MonthlyTokens)
	require.NoError(t, stats.Close())

	reloaded := NewStatsService(db)
	defer reloaded.Close()
	assert.Equal(t, 150, reloaded.GetUsageStats().MonthlyTokens)
}

func TestStatsRollsOverDay(t *testing.T) {
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	stats := NewStatsService(db)
	defer stats.Close()

	day := time.Date(2025, 3, 31, 23, 0, 0, 0, time.Local)
	stats.now = func() time.Time { return day }
	require.NoError(t, stats.RecordAPIRequest(10))

	day = day.Add(2 * time.Hour)
	got := stats.GetUsageStats()
	assert.Zero(t, got.TodayRequests)
	assert.Zero(t, got.MonthlyTokens)
	assert.Equal(t, 10, got.MonthlyStats["2025-03"])
}
