package store

import (
	"context"
	"fmt"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// TimeseriesPoint is one day of decision volume, bucketed into the
// dashboard's three-state vocabulary.
type TimeseriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label"`
	Allowed   int       `json:"allowed"`
	Blocked   int       `json:"blocked"`
	Confirm   int       `json:"confirm"`
}

// BlockReason is an aggregated reason-code count over a window.
type BlockReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

const dayLabel = "2006-01-02"

// Timeseries aggregates audit events over the trailing window into one
// point per calendar day (UTC). Days with no events are present with
// zero counts so charts render a continuous axis.
func (s *Store) Timeseries(ctx context.Context, days int) ([]*TimeseriesPoint, error) {
	days = clampDays(days)
	now := s.now()
	start := midnightUTC(now.AddDate(0, 0, -(days - 1)))

	points := make([]*TimeseriesPoint, days)
	byLabel := make(map[string]*TimeseriesPoint, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		p := &TimeseriesPoint{Timestamp: day, Label: day.Format(dayLabel)}
		points[i] = p
		byLabel[p.Label] = p
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT timestamp, decision_verdict FROM audit_events WHERE timestamp >= ?`),
		formatTime(start))
	if err != nil {
		return nil, fmt.Errorf("store: query timeseries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ts, verdict string
		if err := rows.Scan(&ts, &verdict); err != nil {
			return nil, err
		}
		point, ok := byLabel[parseTime(ts).UTC().Format(dayLabel)]
		if !ok {
			continue
		}
		switch contracts.Verdict(verdict).UI() {
		case "allowed":
			point.Allowed++
		case "confirm":
			point.Confirm++
		default:
			point.Blocked++
		}
	}
	return points, rows.Err()
}

// BlockReasons returns reason-code counts over the trailing window,
// most frequent first.
func (s *Store) BlockReasons(ctx context.Context, days int) ([]*BlockReason, error) {
	days = clampDays(days)
	start := midnightUTC(s.now().AddDate(0, 0, -(days - 1)))

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT decision_reason_code, COUNT(*) AS n
		FROM audit_events
		WHERE timestamp >= ?
		  AND decision_reason_code IS NOT NULL
		  AND decision_reason_code != ''
		GROUP BY decision_reason_code
		ORDER BY n DESC`), formatTime(start))
	if err != nil {
		return nil, fmt.Errorf("store: query block reasons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*BlockReason
	for rows.Next() {
		var r BlockReason
		if err := rows.Scan(&r.Reason, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func clampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > 30 {
		return 30
	}
	return days
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
