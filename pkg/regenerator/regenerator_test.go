package regenerator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddyworks/irrigate/pkg/models"
)

func wl(v float64) *float64 { return &v }

// testBatchAndStep builds a 30-minute batch of two small fields: F1 at
// 40mm against a 50mm target (deficit 13.3m3), F2 at 45mm (deficit
// 6.7m3). The scale keeps successful regenerations inside the default
// validation bounds (1h time, 100m3 water).
func testBatchAndStep() (models.Batch, models.Step) {
	fields := []models.Field{
		{ID: "F1", AreaMu: 2, WLOpt: 50, WaterLevelMM: wl(40), InletGateID: "S1-G2"},
		{ID: "F2", AreaMu: 2, WLOpt: 50, WaterLevelMM: wl(45), InletGateID: "S1-G3"},
	}
	batch := models.Batch{Index: 1, Fields: fields}

	openPercent := 100.0
	step := models.Step{
		Label:   "batch-1",
		TStartH: 0,
		TEndH:   0.5,
		Commands: []models.Command{
			{Action: models.ActionStart, TargetKind: models.TargetPump, TargetID: "P1", TStartH: 0, TEndH: 0.5},
			{Action: models.ActionSet, TargetKind: models.TargetGate, TargetID: "S1-G1", Value: &openPercent, TStartH: 0, TEndH: 0.5},
			{Action: models.ActionOpen, TargetKind: models.TargetField, TargetID: "F1", TStartH: 0, TEndH: 0.5},
			{Action: models.ActionOpen, TargetKind: models.TargetField, TargetID: "F2", TStartH: 0, TEndH: 0.5},
			{Action: models.ActionStop, TargetKind: models.TargetPump, TargetID: "P1", TStartH: 0, TEndH: 0.5},
		},
	}
	return batch, step
}

func TestRegenerateNoNewReadingsIsStable(t *testing.T) {
	batch, step := testBatchAndStep()
	result := Regenerate(1, batch, step, map[string]models.WaterLevelReading{}, DefaultConfig())

	require.True(t, result.Success)
	assert.Equal(t, 0.0, result.ExecutionTimeAdjustmentS, "baseline water levels must leave the duration unchanged")
	assert.Equal(t, 0.0, result.TotalWaterAdjustmentM3)
	assert.Len(t, result.RegeneratedCommands, len(step.Commands))
}

func TestRegenerateCancelsFieldAtTarget(t *testing.T) {
	batch, step := testBatchAndStep()
	readings := map[string]models.WaterLevelReading{
		"F1": {FieldID: "F1", ValueMM: 55},
	}
	result := Regenerate(1, batch, step, readings, DefaultConfig())

	require.True(t, result.Success)
	var sawCancelled bool
	for _, c := range result.Changes {
		if c.Kind == models.ChangeCancelled && c.TargetID == "F1" {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)

	for _, cmd := range result.RegeneratedCommands {
		if cmd.TargetKind == models.TargetField {
			assert.NotEqual(t, "F1", cmd.TargetID, "cancelled field's inlet-open command must be dropped")
		}
	}
}

func TestRegenerateAtExactToleranceBoundaryNotCancelled(t *testing.T) {
	batch, step := testBatchAndStep()
	cfg := DefaultConfig()

	// A reading exactly at target minus tolerance stays active;
	// cancellation requires >= target plus tolerance.
	readings := map[string]models.WaterLevelReading{
		"F1": {FieldID: "F1", ValueMM: 50 - cfg.CompletionToleranceMM},
	}
	result := Regenerate(1, batch, step, readings, cfg)

	require.True(t, result.Success)
	for _, c := range result.Changes {
		assert.NotEqual(t, models.ChangeCancelled, c.Kind)
	}
}

func TestRegenerateGrowsDurationWhenLevelFalls(t *testing.T) {
	batch, step := testBatchAndStep()
	// F1 fell from 40 to 35: deficit grows, so the step must run longer
	// but stay bounded by the adjustment ratio.
	readings := map[string]models.WaterLevelReading{
		"F1": {FieldID: "F1", ValueMM: 35},
	}
	result := Regenerate(1, batch, step, readings, DefaultConfig())

	require.True(t, result.Success)
	assert.Greater(t, result.ExecutionTimeAdjustmentS, 0.0)
	assert.Greater(t, result.TotalWaterAdjustmentM3, 0.0)

	var sawDurationChange bool
	for _, c := range result.Changes {
		if c.Kind == models.ChangeDurationAdjusted {
			sawDurationChange = true
			assert.Greater(t, c.NewValue, c.OldValue)
			assert.LessOrEqual(t, c.NewValue, step.Duration()*1.5+1e-9)
		}
	}
	assert.True(t, sawDurationChange)
}

func TestRegenerateShrinksDurationWhenDeficitDrops(t *testing.T) {
	batch, step := testBatchAndStep()
	readings := map[string]models.WaterLevelReading{
		"F1": {FieldID: "F1", ValueMM: 48},
		"F2": {FieldID: "F2", ValueMM: 49},
	}
	result := Regenerate(1, batch, step, readings, DefaultConfig())

	require.True(t, result.Success)
	assert.Less(t, result.ExecutionTimeAdjustmentS, 0.0)

	var sawDurationChange bool
	for _, c := range result.Changes {
		if c.Kind == models.ChangeDurationAdjusted {
			sawDurationChange = true
			assert.Less(t, c.NewValue, c.OldValue)
		}
	}
	assert.True(t, sawDurationChange)
}

func TestRegenerateClampsDurationRatio(t *testing.T) {
	batch, step := testBatchAndStep()
	// Near-zero remaining deficit would shrink the duration far below half;
	// the ratio clamp holds it at exactly 50% of the original.
	readings := map[string]models.WaterLevelReading{
		"F1": {FieldID: "F1", ValueMM: 49.9},
		"F2": {FieldID: "F2", ValueMM: 49.9},
	}
	cfg := DefaultConfig()
	cfg.MaxDurationAdjustRatio = 0.5
	result := Regenerate(1, batch, step, readings, cfg)

	require.True(t, result.Success)
	var sawDurationChange bool
	for _, c := range result.Changes {
		if c.Kind == models.ChangeDurationAdjusted {
			sawDurationChange = true
			assert.InDelta(t, step.Duration()*0.5, c.NewValue, 0.001)
		}
	}
	assert.True(t, sawDurationChange)
}

func TestRegenerateRejectsExcessiveWaterAdjustment(t *testing.T) {
	batch, step := testBatchAndStep()
	cfg := DefaultConfig()
	cfg.MaxWaterAdjustM3 = 0.001

	readings := map[string]models.WaterLevelReading{
		"F1": {FieldID: "F1", ValueMM: 10},
		"F2": {FieldID: "F2", ValueMM: 10},
	}
	result := Regenerate(1, batch, step, readings, cfg)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestRegenerateRejectsExcessiveTimeAdjustment(t *testing.T) {
	batch, step := testBatchAndStep()
	step.TEndH = 4 // a 4h step: a half-duration shrink moves it 2h, past the 1h bound
	for i := range step.Commands {
		step.Commands[i].TEndH = 4
	}
	readings := map[string]models.WaterLevelReading{
		"F1": {FieldID: "F1", ValueMM: 49.9},
		"F2": {FieldID: "F2", ValueMM: 49.9},
	}
	result := Regenerate(1, batch, step, readings, DefaultConfig())

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.NotEmpty(t, result.OriginalCommands, "original commands are retained on rejection")
}

func TestRegenerateScalesGateOpenPercentWithDeficitRatio(t *testing.T) {
	batch, step := testBatchAndStep()
	// Remaining deficit is half the original: gate open percent follows.
	readings := map[string]models.WaterLevelReading{
		"F1": {FieldID: "F1", ValueMM: 45},
		"F2": {FieldID: "F2", ValueMM: 47.5},
	}
	result := Regenerate(1, batch, step, readings, DefaultConfig())
	require.True(t, result.Success)

	var sawGate bool
	for _, cmd := range result.RegeneratedCommands {
		if cmd.TargetKind == models.TargetGate && cmd.TargetID == "S1-G1" {
			sawGate = true
			require.NotNil(t, cmd.Value)
			assert.InDelta(t, 50.0, *cmd.Value, 0.1)
		}
	}
	assert.True(t, sawGate)
}
