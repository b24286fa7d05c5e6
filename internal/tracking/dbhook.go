package tracking

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"waveform.click/internal/waveform"
)

// hitBatchSize is the number of buffered cache hits that triggers a write
const hitBatchSize = 64

// DBHook writes one row per extraction event. Cache hits are buffered and
// written in one transaction per batch; Flush writes what is pending. After
// the first write error it disables itself so tracking never gets in the
// way of extraction.
type DBHook struct {
	db        *sql.DB
	sessionID string
	now       func() time.Time

	mu       sync.Mutex
	disabled bool
	written  int64
	hits     []pendingEvent
}

type pendingEvent struct {
	at    time.Time
	event waveform.ExtractionEvent
}

// NewDBHook creates a database hook for a session. An empty sessionID gets
// a random one.
func NewDBHook(db *sql.DB, sessionID string) *DBHook {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &DBHook{
		db:        db,
		sessionID: sessionID,
		now:       time.Now,
	}
}

// SessionID identifies the rows written by this hook
func (d *DBHook) SessionID() string {
	return d.sessionID
}

// Disabled reports whether a write error turned the hook off
func (d *DBHook) Disabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disabled
}

// Written returns the number of rows inserted
func (d *DBHook) Written() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Pending returns the number of buffered cache hits
func (d *DBHook) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.hits)
}

// LogExtraction inserts event. Hits are buffered until hitBatchSize of them
// are pending.
func (d *DBHook) LogExtraction(event waveform.ExtractionEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disabled {
		return
	}

	if event.Status == waveform.StatusHit {
		d.hits = append(d.hits, pendingEvent{at: d.now(), event: event})
		if len(d.hits) >= hitBatchSize {
			d.flushLocked()
		}
		return
	}

	query, args := insertEvent(d.sessionID, d.now(), event)
	if _, err := d.db.Exec(query, args...); err != nil {
		d.disable(err, event.AssetID)
		return
	}
	d.written++

	slog.Debug("extraction tracked",
		"session_id", d.sessionID,
		"asset_id", event.AssetID,
		"status", string(event.Status))
}

// Flush writes buffered cache hits. It is a no-op once the hook is disabled.
func (d *DBHook) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disabled {
		return
	}
	d.flushLocked()
}

func (d *DBHook) flushLocked() {
	if len(d.hits) == 0 {
		return
	}
	pending := d.hits
	d.hits = nil

	tx, err := d.db.Begin()
	if err != nil {
		d.disable(err, pending[0].event.AssetID)
		return
	}
	for _, p := range pending {
		query, args := insertEvent(d.sessionID, p.at, p.event)
		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()
			d.disable(err, p.event.AssetID)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		d.disable(err, pending[0].event.AssetID)
		return
	}
	d.written += int64(len(pending))

	slog.Debug("cache hits tracked",
		"session_id", d.sessionID,
		"count", len(pending))
}

func (d *DBHook) disable(err error, assetID string) {
	slog.Warn("extraction tracking failed, disabling", "error", err, "asset_id", assetID)
	d.disabled = true
	d.hits = nil
}

// GetHook returns the ExtractionHook for the waveform cache
func (d *DBHook) GetHook() waveform.ExtractionHook {
	return d.LogExtraction
}

func insertEvent(sessionID string, at time.Time, event waveform.ExtractionEvent) (string, []interface{}) {
	var errText sql.NullString
	if event.Err != nil {
		errText = sql.NullString{String: event.Err.Error(), Valid: true}
	}

	width := event.Width
	if width < 1 {
		width = 1
	}

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto(eventsTable)
	ib.Cols("timestamp", "session_id", "asset_id", "asset_name",
		"range_start", "range_duration", "range_key",
		"width", "channels", "status", "elapsed_us", "error")
	ib.Values(at.Unix(), sessionID, event.AssetID, event.AssetName,
		event.Range.Start.Seconds(), event.Range.Duration.Seconds(), event.Range.Key(),
		width, event.Channels, string(event.Status), event.Elapsed.Microseconds(), errText)
	return ib.BuildWithFlavor(sqlbuilder.SQLite)
}
