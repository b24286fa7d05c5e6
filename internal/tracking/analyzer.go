package tracking

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"waveform.click/internal/waveform"
)

var ErrNoDatabase = errors.New("database connection is nil")

// ExtractionSummary aggregates extraction outcomes
type ExtractionSummary struct {
	Total        int                     `json:"total"`
	ByStatus     map[waveform.Status]int `json:"by_status"`
	UniqueAssets int                     `json:"unique_assets"`
	HitRate      float64                 `json:"hit_rate"` // hits and coalesced waits over all requests
	AvgElapsed   time.Duration           `json:"avg_elapsed"`
	MaxElapsed   time.Duration           `json:"max_elapsed"`
}

// ExtractionRecord is one stored extraction event
type ExtractionRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	AssetID   string          `json:"asset_id"`
	AssetName string          `json:"asset_name"`
	Start     float64         `json:"start_seconds"`
	Duration  float64         `json:"duration_seconds"`
	Width     int             `json:"width"`
	Channels  string          `json:"channels"`
	Status    waveform.Status `json:"status"`
	Elapsed   time.Duration   `json:"elapsed"`
	Error     string          `json:"error,omitempty"`
}

// AssetUsage summarizes requests against one asset
type AssetUsage struct {
	AssetID      string        `json:"asset_id"`
	AssetName    string        `json:"asset_name"`
	Requests     int           `json:"requests"`
	Extractions  int           `json:"extractions"`
	Hits         int           `json:"hits"`
	TotalElapsed time.Duration `json:"total_elapsed"`
	LastSeen     time.Time     `json:"last_seen"`
}

// GetExtractionSummary counts events by status and measures completed extractions
func GetExtractionSummary(db *sql.DB, filter QueryFilter) (*ExtractionSummary, error) {
	if db == nil {
		return nil, ErrNoDatabase
	}
	now := time.Now()
	filter.Limit = 0

	summary := &ExtractionSummary{ByStatus: make(map[waveform.Status]int)}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("status", "COUNT(*)").From(eventsTable)
	filter.Apply(sb, now)
	sb.GroupBy("status")
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary.ByStatus[waveform.Status(status)] = count
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}

	if summary.Total > 0 {
		served := summary.ByStatus[waveform.StatusHit] + summary.ByStatus[waveform.StatusCoalesced]
		summary.HitRate = float64(served) / float64(summary.Total)
	}

	sb = sqlbuilder.NewSelectBuilder()
	sb.Select("COUNT(DISTINCT asset_id)").From(eventsTable)
	filter.Apply(sb, now)
	query, args = sb.BuildWithFlavor(sqlbuilder.SQLite)
	if err := db.QueryRow(query, args...).Scan(&summary.UniqueAssets); err != nil {
		return nil, fmt.Errorf("failed to count assets: %w", err)
	}

	sb = sqlbuilder.NewSelectBuilder()
	sb.Select("COALESCE(AVG(elapsed_us), 0)", "COALESCE(MAX(elapsed_us), 0)").From(eventsTable)
	filter.Apply(sb, now, sb.Equal("status", string(waveform.StatusCompleted)))
	query, args = sb.BuildWithFlavor(sqlbuilder.SQLite)

	var avgMicros float64
	var maxMicros int64
	if err := db.QueryRow(query, args...).Scan(&avgMicros, &maxMicros); err != nil {
		return nil, fmt.Errorf("failed to measure extractions: %w", err)
	}
	summary.AvgElapsed = time.Duration(avgMicros) * time.Microsecond
	summary.MaxElapsed = time.Duration(maxMicros) * time.Microsecond

	slog.Debug("extraction summary computed", "total", summary.Total, "unique_assets", summary.UniqueAssets)
	return summary, nil
}

// GetSlowestExtractions returns completed and failed extractions, slowest first
func GetSlowestExtractions(db *sql.DB, filter QueryFilter) ([]ExtractionRecord, error) {
	if db == nil {
		return nil, ErrNoDatabase
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("timestamp", "session_id", "asset_id", "asset_name", "range_start", "range_duration",
		"width", "channels", "status", "elapsed_us", "error").From(eventsTable)
	filter.Apply(sb, time.Now(), sb.In("status", string(waveform.StatusCompleted), string(waveform.StatusFailed)))
	sb.OrderBy("elapsed_us").Desc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slowest extractions: %w", err)
	}
	defer rows.Close()

	var records []ExtractionRecord
	for rows.Next() {
		var rec ExtractionRecord
		var ts, elapsed int64
		var status string
		var errText sql.NullString
		if err := rows.Scan(&ts, &rec.SessionID, &rec.AssetID, &rec.AssetName, &rec.Start, &rec.Duration,
			&rec.Width, &rec.Channels, &status, &elapsed, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan extraction row: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0)
		rec.Status = waveform.Status(status)
		rec.Elapsed = time.Duration(elapsed) * time.Microsecond
		rec.Error = errText.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating extraction rows: %w", err)
	}

	return records, nil
}

// GetAssetUsage groups events by asset, most requested first
func GetAssetUsage(db *sql.DB, filter QueryFilter) ([]AssetUsage, error) {
	if db == nil {
		return nil, ErrNoDatabase
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(
		"asset_id",
		"MAX(asset_name)",
		sb.As("COUNT(*)", "requests"),
		"SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN status IN ('hit', 'coalesced') THEN 1 ELSE 0 END)",
		"SUM(elapsed_us)",
		"MAX(timestamp)",
	).From(eventsTable)
	filter.Apply(sb, time.Now())
	sb.GroupBy("asset_id")
	sb.OrderBy("requests").Desc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset usage: %w", err)
	}
	defer rows.Close()

	var usage []AssetUsage
	for rows.Next() {
		var u AssetUsage
		var elapsed, last int64
		if err := rows.Scan(&u.AssetID, &u.AssetName, &u.Requests, &u.Extractions, &u.Hits, &elapsed, &last); err != nil {
			return nil, fmt.Errorf("failed to scan asset usage row: %w", err)
		}
		u.TotalElapsed = time.Duration(elapsed) * time.Microsecond
		u.LastSeen = time.Unix(last, 0)
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset usage rows: %w", err)
	}

	return usage, nil
}
