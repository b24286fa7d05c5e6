package tracking

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveform.click/internal/audiotest"
	"waveform.click/internal/media"
	"waveform.click/internal/mediatime"
	"waveform.click/internal/waveform"
)

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM extraction_events").Scan(&n))
	return n
}

func TestNewDBHook(t *testing.T) {
	db := setupTestDB(t)

	hook := NewDBHook(db, "session-123")
	assert.Equal(t, "session-123", hook.SessionID())
	assert.False(t, hook.Disabled())
}

func TestNewDBHookGeneratesSessionID(t *testing.T) {
	db := setupTestDB(t)

	a := NewDBHook(db, "")
	b := NewDBHook(db, "")

	_, err := uuid.Parse(a.SessionID())
	assert.NoError(t, err)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}

func TestDBHookWritesEvent(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "s1")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hook.now = func() time.Time { return at }

	event := sampleEvent(waveform.StatusCompleted)
	hook.GetHook()(event)

	var (
		ts        int64
		session   string
		assetID   string
		assetName string
		start     float64
		duration  float64
		rangeKey  string
		width     int
		channels  string
		status    string
		elapsed   int64
		errText   sql.NullString
	)
	err := db.QueryRow(`SELECT timestamp, session_id, asset_id, asset_name, range_start, range_duration,
		range_key, width, channels, status, elapsed_us, error FROM extraction_events`).
		Scan(&ts, &session, &assetID, &assetName, &start, &duration, &rangeKey, &width, &channels, &status, &elapsed, &errText)
	require.NoError(t, err)

	assert.Equal(t, at.Unix(), ts)
	assert.Equal(t, "s1", session)
	assert.Equal(t, "asset-1", assetID)
	assert.Equal(t, "drums.wav", assetName)
	assert.InDelta(t, 2.0, start, 1e-9)
	assert.InDelta(t, 2.0, duration, 1e-9)
	assert.Equal(t, event.Range.Key(), rangeKey)
	assert.Equal(t, 50, width)
	assert.Equal(t, "0-1", channels)
	assert.Equal(t, "completed", status)
	assert.Equal(t, int64(1500), elapsed)
	assert.False(t, errText.Valid)
	assert.Equal(t, int64(1), hook.Written())
}

func TestDBHookStoresError(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "s1")

	event := sampleEvent(waveform.StatusFailed)
	event.Err = errors.New("read failed")
	hook.LogExtraction(event)

	var errText sql.NullString
	require.NoError(t, db.QueryRow("SELECT error FROM extraction_events").Scan(&errText))
	assert.True(t, errText.Valid)
	assert.Equal(t, "read failed", errText.String)
}

func TestDBHookDisablesAfterError(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "s1")
	require.NoError(t, db.Close())

	hook.LogExtraction(sampleEvent(waveform.StatusCompleted))
	assert.True(t, hook.Disabled())

	assert.NotPanics(t, func() { hook.LogExtraction(sampleEvent(waveform.StatusHit)) })
	assert.Zero(t, hook.Written())
}

func TestDBHookRecordsCacheActivity(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "s1")

	data, err := audiotest.EncodeWAV(8000, 16, 1, 8000, audiotest.Constant(0.25))
	require.NoError(t, err)

	cache := waveform.NewCache(nil, CacheOptions(hook)...)
	cache.SetAsset(media.NewBytesAsset("tone", "tone.wav", data))

	r := mediatime.NewRange(mediatime.Zero, mediatime.New(1, 1))
	require.NoError(t, cache.ReadTimeRange(context.Background(), r, 10))
	require.NoError(t, cache.ReadTimeRange(context.Background(), r, 10))

	assert.Equal(t, 1, countRows(t, db), "the hit is buffered")
	assert.Equal(t, 1, hook.Pending())

	hook.Flush()
	assert.Equal(t, 2, countRows(t, db))
	assert.Zero(t, hook.Pending())

	summary, err := GetExtractionSummary(db, QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ByStatus[waveform.StatusCompleted])
	assert.Equal(t, 1, summary.ByStatus[waveform.StatusHit])
}

func TestDBHookBatchesHits(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "s1")

	for i := 0; i < hitBatchSize-1; i++ {
		hook.LogExtraction(sampleEvent(waveform.StatusHit))
	}
	assert.Zero(t, countRows(t, db), "hits stay off the database until a batch fills")
	assert.Equal(t, hitBatchSize-1, hook.Pending())

	hook.LogExtraction(sampleEvent(waveform.StatusCompleted))
	assert.Equal(t, 1, countRows(t, db), "other statuses are written at once")

	hook.LogExtraction(sampleEvent(waveform.StatusHit))
	assert.Equal(t, hitBatchSize+1, countRows(t, db))
	assert.Zero(t, hook.Pending())
	assert.Equal(t, int64(hitBatchSize+1), hook.Written())
}

func TestDBHookFlushAfterCloseDisables(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "s1")

	hook.LogExtraction(sampleEvent(waveform.StatusHit))
	require.NoError(t, db.Close())

	assert.NotPanics(t, hook.Flush)
	assert.True(t, hook.Disabled())
	assert.Zero(t, hook.Pending())
	assert.Zero(t, hook.Written())
}
