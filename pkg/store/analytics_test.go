package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

func TestTimeseriesPrefillsWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))

	points, err := s.Timeseries(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, points, 7)
	assert.Equal(t, "2025-06-04", points[0].Label)
	assert.Equal(t, "2025-06-10", points[6].Label)
	for _, p := range points {
		assert.Zero(t, p.Allowed)
		assert.Zero(t, p.Blocked)
		assert.Zero(t, p.Confirm)
		assert.Equal(t, p.Label, p.Timestamp.Format("2006-01-02"))
		assert.Equal(t, time.UTC, p.Timestamp.Location())
	}
}

func TestTimeseriesBucketsVerdicts(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	today := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	yesterday := time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	ancient := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	save := func(actionID string, ts time.Time, verdict contracts.Verdict, reason contracts.ReasonCode) {
		t.Helper()
		_, err := s.SaveAuditEvent(ctx, testEvent(actionID, ts, verdict, reason))
		require.NoError(t, err)
	}
	save("act-1", today, contracts.VerdictAllow, contracts.ReasonApproved)
	save("act-2", today.Add(time.Second), contracts.VerdictAllow, contracts.ReasonApproved)
	save("act-3", today.Add(2*time.Second), contracts.VerdictBlock, contracts.ReasonRiskTooHigh)
	save("act-4", today.Add(3*time.Second), contracts.VerdictEscalate, contracts.ReasonNeedConfirmation)
	save("act-5", today.Add(4*time.Second), contracts.VerdictDegrade, contracts.ReasonDegradedToSafeAlt)
	save("act-6", yesterday, contracts.VerdictBlock, contracts.ReasonScopeViolation)
	save("act-7", ancient, contracts.VerdictBlock, contracts.ReasonScopeViolation)

	points, err := s.Timeseries(ctx, 7)
	require.NoError(t, err)
	require.Len(t, points, 7)

	last := points[6]
	assert.Equal(t, "2025-06-10", last.Label)
	assert.Equal(t, 2, last.Allowed)
	assert.Equal(t, 1, last.Blocked)
	assert.Equal(t, 2, last.Confirm)

	prev := points[5]
	assert.Equal(t, "2025-06-09", prev.Label)
	assert.Equal(t, 1, prev.Blocked)

	// The event outside the window is not counted anywhere.
	total := 0
	for _, p := range points {
		total += p.Allowed + p.Blocked + p.Confirm
	}
	assert.Equal(t, 6, total)
}

func TestTimeseriesClampsDays(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	points, err := s.Timeseries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	points, err = s.Timeseries(ctx, 365)
	require.NoError(t, err)
	assert.Len(t, points, 30)
}

func TestBlockReasonsOrderedByCount(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	today := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	save := func(actionID string, ts time.Time, verdict contracts.Verdict, reason contracts.ReasonCode) {
		t.Helper()
		_, err := s.SaveAuditEvent(ctx, testEvent(actionID, ts, verdict, reason))
		require.NoError(t, err)
	}
	save("act-1", today, contracts.VerdictBlock, contracts.ReasonScopeViolation)
	save("act-2", today.Add(time.Second), contracts.VerdictBlock, contracts.ReasonScopeViolation)
	save("act-3", today.Add(2*time.Second), contracts.VerdictBlock, contracts.ReasonScopeViolation)
	save("act-4", today.Add(3*time.Second), contracts.VerdictBlock, contracts.ReasonRiskTooHigh)
	save("act-5", today.Add(4*time.Second), contracts.VerdictBlock, contracts.ReasonRiskTooHigh)
	// Reason codes are counted for every verdict, not only blocks.
	save("act-6", today.Add(5*time.Second), contracts.VerdictAllow, contracts.ReasonApproved)
	// Out of window.
	save("act-7", time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC), contracts.VerdictBlock, contracts.ReasonDataExfil)

	reasons, err := s.BlockReasons(ctx, 7)
	require.NoError(t, err)
	require.Len(t, reasons, 3)
	assert.Equal(t, "SCOPE_VIOLATION", reasons[0].Reason)
	assert.Equal(t, 3, reasons[0].Count)
	assert.Equal(t, "RISK_TOO_HIGH", reasons[1].Reason)
	assert.Equal(t, 2, reasons[1].Count)
	assert.Equal(t, "APPROVED", reasons[2].Reason)
	assert.Equal(t, 1, reasons[2].Count)
}

func TestBlockReasonsEmptyWindow(t *testing.T) {
	s := newTestStore(t)

	reasons, err := s.BlockReasons(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, reasons)
}
