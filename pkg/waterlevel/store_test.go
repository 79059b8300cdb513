package waterlevel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddyworks/irrigate/pkg/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStoreAddDerivesQualityFromSourceAndAge(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.now = fixedClock(base)

	require.NoError(t, s.Add(models.WaterLevelReading{
		FieldID:   "F1",
		ValueMM:   400,
		Timestamp: base.Add(-30 * time.Minute),
		Source:    models.SourceAPI,
	}))

	latest, ok := s.Latest("F1")
	require.True(t, ok)
	assert.Equal(t, models.QualityExcellent, latest.Quality)
}

func TestStoreAddRejectsOutOfBoundValue(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(models.WaterLevelReading{
		FieldID:   "F1",
		ValueMM:   1500,
		Timestamp: time.Now(),
		Source:    models.SourceAPI,
	}))

	_, ok := s.Latest("F1")
	assert.False(t, ok, "out-of-bounds reading must never be admitted to planning")
}

func TestStoreCapsHistoryAt100(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		require.NoError(t, s.Add(models.WaterLevelReading{
			FieldID:   "F1",
			ValueMM:   50,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Source:    models.SourceManual,
		}))
	}
	assert.LessOrEqual(t, len(s.histories["F1"].Readings), models.FieldHistoryCap)
}

func TestStoreTrendRequiresTwoValidSamples(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(base.Add(time.Hour))

	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F1", ValueMM: 40, Timestamp: base, Source: models.SourceManual}))
	_, ok := s.Trend("F1", 24)
	assert.False(t, ok)
}

func TestStoreTrendRisingSlope(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(base.Add(3 * time.Hour))

	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F1", ValueMM: 40, Timestamp: base, Source: models.SourceManual}))
	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F1", ValueMM: 46, Timestamp: base.Add(3 * time.Hour), Source: models.SourceManual}))

	slope, ok := s.Trend("F1", 24)
	require.True(t, ok)
	assert.InDelta(t, 2.0, slope, 0.001)
}

func TestStorePersistAndLoadRoundTrips(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F1", ValueMM: 40, Timestamp: base, Source: models.SourceManual, Quality: models.QualityGood}))

	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, s.Persist(path))

	reloaded := NewStore()
	require.NoError(t, reloaded.Load(path))

	latest, ok := reloaded.Latest("F1")
	require.True(t, ok)
	assert.Equal(t, 40.0, latest.ValueMM)
}

func TestStoreLoadMissingFileIsNotAnError(t *testing.T) {
	s := NewStore()
	err := s.Load(filepath.Join(os.TempDir(), "does-not-exist-irrigate-cache.json"))
	assert.NoError(t, err)
}

func TestStoreSummaryReportsCoverageAndDistribution(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(base)

	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F1", ValueMM: 40, Timestamp: base, Source: models.SourceAPI}))

	res := s.Summary([]string{"F1", "F2"}, FieldIDSGF, nil)
	assert.Equal(t, 2, res.FieldsRequested)
	assert.Equal(t, 1, res.FieldsWithData)
	assert.Equal(t, 1, res.FieldsWithoutData)
	assert.InDelta(t, 0.5, res.CoverageRate, 0.001)
	assert.Len(t, res.Fields, 1)
}

func TestStoreGetQualitySummaryIgnoresFieldIDsFilter(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(base)
	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F1", ValueMM: 40, Timestamp: base, Source: models.SourceAPI}))
	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F2", ValueMM: 40, Timestamp: base.Add(-30 * 24 * time.Hour), Source: models.SourceCached}))

	qs := s.GetQualitySummary()
	assert.Equal(t, 2, qs.TotalFields)
	assert.Equal(t, 1, qs.ByQuality[models.QualityExcellent])
	assert.Equal(t, 1, qs.ByQuality[models.QualityPoor])
}

func TestStoreCleanupOldDataEvictsBeyondHorizon(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(base)

	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F1", ValueMM: 40, Timestamp: base.Add(-100 * 24 * time.Hour), Source: models.SourceManual}))
	require.NoError(t, s.Add(models.WaterLevelReading{FieldID: "F1", ValueMM: 41, Timestamp: base, Source: models.SourceManual}))

	evicted := s.CleanupOldData(24 * 30)
	assert.Equal(t, 1, evicted)
	assert.Len(t, s.histories["F1"].Readings, 1)
}
