package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labwatch/labwatch/internal/journal"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func devices() []telemetry.Device {
	return []telemetry.Device{
		{ID: "scope1", Channels: []string{"voltage"}, SampleInterval: time.Second},
		{ID: "meter1", Channels: []string{"current"}, SampleInterval: time.Second},
	}
}

func newEngine(t *testing.T) (*Engine, *journal.Journal) {
	t.Helper()
	j, _, err := journal.Open(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() }) //nolint:errcheck
	return New(j, devices()), j
}

func appendSample(t *testing.T, j *journal.Journal, device string, n int) uint64 {
	t.Helper()
	seq, err := j.Append(telemetry.SampleRecord(&telemetry.Sample{
		DeviceID:  device,
		Timestamp: baseTime.Add(time.Duration(n) * time.Second),
		Values:    map[string]float64{"voltage": float64(n)},
	}))
	require.NoError(t, err)
	return seq
}

func appendInsight(t *testing.T, j *journal.Journal, device string, n int, severity float64) uint64 {
	t.Helper()
	seq, err := j.Append(telemetry.InsightRecord(&telemetry.Insight{
		DeviceID:  device,
		Timestamp: baseTime.Add(time.Duration(n) * time.Second),
		Kind:      telemetry.KindDrift,
		Severity:  severity,
		Summary:   "test insight",
	}))
	require.NoError(t, err)
	return seq
}

func TestLatestSample_ReadAfterWrite(t *testing.T) {
	e, j := newEngine(t)
	seq := appendSample(t, j, "scope1", 0)

	rec, err := e.LatestSample("scope1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rec.Seq, seq,
		"latest must be at least as new as the last committed write")
}

func TestLatestSample_UnknownDevice(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.LatestSample("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestSample_NoDataYet(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.LatestSample("scope1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestHealth_SystemAggregate(t *testing.T) {
	e, j := newEngine(t)
	_, err := j.Append(telemetry.HealthRecord(&telemetry.HealthSnapshot{
		DeviceID:  telemetry.SystemDeviceID,
		Timestamp: baseTime,
		Score:     42,
		State:     "critical",
	}))
	require.NoError(t, err)

	rec, err := e.LatestHealth(telemetry.SystemDeviceID)
	require.NoError(t, err)
	assert.Equal(t, 42.0, rec.Health.Score)
}

func TestHistory_StrictlyIncreasingSeq(t *testing.T) {
	e, j := newEngine(t)
	for i := 0; i < 10; i++ {
		appendSample(t, j, "scope1", i)
		appendSample(t, j, "meter1", i) // interleaved noise
	}

	page, err := e.History("scope1", time.Time{}, time.Time{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 10)
	for i := 1; i < len(page.Records); i++ {
		assert.Greater(t, page.Records[i].Seq, page.Records[i-1].Seq)
		assert.Equal(t, "scope1", page.Records[i].DeviceID)
	}
}

func TestHistory_PaginationReproducesUnpagedRead(t *testing.T) {
	e, j := newEngine(t)
	for i := 0; i < 25; i++ {
		appendSample(t, j, "scope1", i)
	}

	unpaged, err := e.History("scope1", time.Time{}, time.Time{}, 0, 100)
	require.NoError(t, err)
	require.Len(t, unpaged.Records, 25)

	var paged []telemetry.Record
	cursor := uint64(0)
	for {
		page, err := e.History("scope1", time.Time{}, time.Time{}, cursor, 7)
		require.NoError(t, err)
		paged = append(paged, page.Records...)
		if page.NextCursor == 0 {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, unpaged.Records, paged)
}

func TestHistory_TimeRangeFilter(t *testing.T) {
	e, j := newEngine(t)
	for i := 0; i < 10; i++ {
		appendSample(t, j, "scope1", i)
	}

	from := baseTime.Add(3 * time.Second)
	to := baseTime.Add(6 * time.Second)
	page, err := e.History("scope1", from, to, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 4) // seconds 3, 4, 5, 6 inclusive
	for _, rec := range page.Records {
		assert.False(t, rec.Timestamp.Before(from))
		assert.False(t, rec.Timestamp.After(to))
	}
}

func TestHistory_UnknownDevice(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.History("ghost", time.Time{}, time.Time{}, 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsights_SeverityFilter(t *testing.T) {
	e, j := newEngine(t)
	appendInsight(t, j, "scope1", 0, 2.0)
	appendInsight(t, j, "scope1", 1, 5.0)
	appendInsight(t, j, "meter1", 2, 8.0)
	appendSample(t, j, "scope1", 3) // non-insight noise

	page, err := e.Insights("", 4.0, time.Time{}, time.Time{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, 5.0, page.Records[0].Insight.Severity)
	assert.Equal(t, 8.0, page.Records[1].Insight.Severity)
}

func TestInsights_DeviceFilter(t *testing.T) {
	e, j := newEngine(t)
	appendInsight(t, j, "scope1", 0, 5.0)
	appendInsight(t, j, "meter1", 1, 5.0)

	page, err := e.Insights("meter1", 0, time.Time{}, time.Time{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "meter1", page.Records[0].DeviceID)
}

func TestDevices_DeclarationOrder(t *testing.T) {
	e, _ := newEngine(t)
	ds := e.Devices()
	require.Len(t, ds, 2)
	assert.Equal(t, "scope1", ds[0].ID)
	assert.Equal(t, "meter1", ds[1].ID)
}
