package tracking

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/tj/go-naturaldate"
)

const eventsTable = "extraction_events"

// QueryFilter represents common query structure for all analyze commands
type QueryFilter struct {
	// Time filters, first match wins: DatePreset, Since, StartTime/EndTime, Days
	StartTime  *time.Time
	EndTime    *time.Time
	Days       int
	DatePreset string // "today", "yesterday", "week", "last-week", "month", "last-month", "all"
	Since      string // natural language, e.g. "3 hours ago"

	// Content filters
	AssetID   string
	Status    string
	SessionID string

	// Output control
	Limit int
}

// ApplyTimeFilter converts QueryFilter time options to Unix timestamps.
// A zero start means no lower bound.
func (q *QueryFilter) ApplyTimeFilter(now time.Time) (startUnix, endUnix int64) {
	slog.Debug("applying time filter", "days", q.Days, "date_preset", q.DatePreset, "since", q.Since)

	endUnix = now.Unix()

	if q.DatePreset != "" {
		start, end, err := ParseDatePreset(q.DatePreset, now)
		if err != nil {
			slog.Warn("invalid date preset, using no time filter", "preset", q.DatePreset, "error", err)
			return 0, endUnix
		}
		if start.IsZero() {
			return 0, end.Unix()
		}
		return start.Unix(), end.Unix()
	}

	if q.Since != "" {
		start, err := ParseNaturalDate(q.Since, now)
		if err != nil {
			slog.Warn("invalid since expression, using no time filter", "since", q.Since, "error", err)
			return 0, endUnix
		}
		return start.Unix(), endUnix
	}

	if q.StartTime != nil && q.EndTime != nil {
		return q.StartTime.Unix(), q.EndTime.Unix()
	}
	if q.StartTime != nil {
		return q.StartTime.Unix(), endUnix
	}
	if q.EndTime != nil {
		return 0, q.EndTime.Unix()
	}

	if q.Days > 0 {
		return now.AddDate(0, 0, -q.Days).Unix(), endUnix
	}

	return 0, endUnix
}

func (q *QueryFilter) hasTimeFilter() bool {
	return q.StartTime != nil || q.EndTime != nil || q.Days > 0 || q.DatePreset != "" || q.Since != ""
}

// Conditions returns the filter as WHERE expressions bound to sb's arguments
func (q *QueryFilter) Conditions(sb *sqlbuilder.SelectBuilder, now time.Time) []string {
	var conds []string

	if q.hasTimeFilter() {
		startUnix, endUnix := q.ApplyTimeFilter(now)
		if startUnix > 0 {
			conds = append(conds, sb.GreaterEqualThan("timestamp", startUnix))
		}
		conds = append(conds, sb.LessEqualThan("timestamp", endUnix))
	}
	if q.AssetID != "" {
		conds = append(conds, sb.Equal("asset_id", q.AssetID))
	}
	if q.Status != "" {
		conds = append(conds, sb.Equal("status", q.Status))
	}
	if q.SessionID != "" {
		conds = append(conds, sb.Equal("session_id", q.SessionID))
	}

	slog.Debug("built filter conditions", "asset_id", q.AssetID, "status", q.Status, "condition_count", len(conds))
	return conds
}

// Apply adds the filter's conditions and limit to sb
func (q *QueryFilter) Apply(sb *sqlbuilder.SelectBuilder, now time.Time, extra ...string) {
	conds := append(q.Conditions(sb, now), extra...)
	if len(conds) > 0 {
		sb.Where(conds...)
	}
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}
}

// ParseDatePreset converts date preset strings to time ranges
func ParseDatePreset(preset string, now time.Time) (start, end time.Time, err error) {
	slog.Debug("parsing date preset", "preset", preset)

	switch preset {
	case "today":
		start = beginningOfDay(now)
		end = now
	case "yesterday":
		start = beginningOfDay(now.AddDate(0, 0, -1))
		end = beginningOfDay(now)
	case "week", "this-week":
		start = beginningOfWeek(now)
		end = now
	case "last-week":
		start = beginningOfWeek(now).AddDate(0, 0, -7)
		end = beginningOfWeek(now)
	case "month", "this-month":
		start = beginningOfMonth(now)
		end = now
	case "last-month":
		start = beginningOfMonth(now).AddDate(0, -1, 0)
		end = beginningOfMonth(now)
	case "all", "all-time":
		start = time.Time{}
		end = now
	default:
		err = fmt.Errorf("unknown preset: %s", preset)
		slog.Error("invalid date preset", "preset", preset)
		return
	}

	slog.Debug("parsed date preset", "preset", preset, "start", start, "end", end)
	return
}

// ParseNaturalDate parses natural language dates relative to now
func ParseNaturalDate(naturalDate string, now time.Time) (time.Time, error) {
	slog.Debug("parsing natural language date", "input", naturalDate)

	result, err := naturaldate.Parse(naturalDate, now)
	if err != nil {
		slog.Warn("failed to parse natural language date", "input", naturalDate, "error", err)
		return time.Time{}, fmt.Errorf("failed to parse natural date '%s': %w", naturalDate, err)
	}

	slog.Debug("parsed natural language date", "input", naturalDate, "result", result)
	return result, nil
}

// beginningOfDay returns time at start of day (00:00:00)
func beginningOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// beginningOfWeek returns Monday 00:00:00 of t's week
func beginningOfWeek(t time.Time) time.Time {
	weekday := t.Weekday()
	if weekday == time.Sunday {
		weekday = 7
	}
	return beginningOfDay(t.AddDate(0, 0, -int(weekday-1)))
}

// beginningOfMonth returns time at start of month (1st day 00:00:00)
func beginningOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
