// Package regenerator re-derives one batch's commands from a fresh
// water-level reading map without re-running the full plan builder.
package regenerator

import (
	"fmt"

	"github.com/paddyworks/irrigate/pkg/models"
)

// Config bounds how far one regeneration may move a batch's timing and
// water delivery before it is rejected.
type Config struct {
	// MaxDurationAdjustRatio bounds the step duration change as a fraction
	// of the original (default 0.5 == +/-50%).
	MaxDurationAdjustRatio float64
	MinDurationH           float64
	MaxDurationH           float64
	// CompletionToleranceMM: a field whose new reading is at or above its
	// target plus this many mm is treated as already satisfied and cancelled.
	CompletionToleranceMM float64
	// MaxTimeAdjustHours and MaxWaterAdjustM3 are the validation bounds a
	// regeneration must stay within to be accepted.
	MaxTimeAdjustHours float64
	MaxWaterAdjustM3   float64
}

// DefaultConfig returns the standard adjustment and validation bounds.
func DefaultConfig() Config {
	return Config{
		MaxDurationAdjustRatio: 0.5,
		MinDurationH:           5.0 / 60,
		MaxDurationH:           24,
		CompletionToleranceMM:  2,
		MaxTimeAdjustHours:     1,
		MaxWaterAdjustM3:       100,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func fieldDeficit(wlOpt, wlMM, areaMu float64) float64 {
	if wlMM >= wlOpt {
		return 0
	}
	return (wlOpt - wlMM) * areaMu * models.PerMuM3Factor
}

// Regenerate re-derives batch's commands from readings, a field_id ->
// WaterLevelReading map resolved just before this batch's preparing tick. It
// never errors on rejection: a rejected regeneration is reported via
// BatchRegenerationResult.Success=false, and callers fall back to the
// batch's original commands.
func Regenerate(batchIndex int, batch models.Batch, step models.Step, readings map[string]models.WaterLevelReading, cfg Config) *models.BatchRegenerationResult {
	result := &models.BatchRegenerationResult{
		BatchIndex:        batchIndex,
		OriginalCommands:  step.Commands,
		WaterLevelChanges: map[string]float64{},
	}

	survivingWL := make(map[string]float64, len(batch.Fields))
	var originalDeficit, newDeficit float64

	for _, f := range batch.Fields {
		originalDeficit += f.DeficitM3()

		newWL := f.WLOpt
		if f.WaterLevelMM != nil {
			newWL = *f.WaterLevelMM
		}
		if r, ok := readings[f.ID]; ok {
			newWL = r.ValueMM
			result.WaterLevelChanges[f.ID] = r.ValueMM
		}

		if newWL >= f.WLOpt+cfg.CompletionToleranceMM {
			result.Changes = append(result.Changes, models.PlanChange{
				Kind:        models.ChangeCancelled,
				TargetID:    f.ID,
				Description: fmt.Sprintf("field %s reached target (reading %.1fmm >= target %.1fmm)", f.ID, newWL, f.WLOpt),
				OldValue:    f.DeficitM3(),
				NewValue:    0,
				Impact:      models.ImpactModerate,
			})
			continue
		}

		survivingWL[f.ID] = newWL
		newDeficit += fieldDeficit(f.WLOpt, newWL, f.AreaMu)
	}

	ratio := 1.0
	if originalDeficit > 0 {
		ratio = newDeficit / originalDeficit
	}
	ratio = clamp(ratio, 1-cfg.MaxDurationAdjustRatio, 1+cfg.MaxDurationAdjustRatio)

	originalDuration := step.Duration()
	newDuration := clamp(originalDuration*ratio, cfg.MinDurationH, cfg.MaxDurationH)

	if originalDuration > 0 && newDuration != originalDuration {
		rel := (newDuration - originalDuration) / originalDuration
		result.Changes = append(result.Changes, models.PlanChange{
			Kind:        models.ChangeDurationAdjusted,
			TargetID:    step.Label,
			Description: fmt.Sprintf("batch %d duration %.3fh -> %.3fh (deficit ratio %.3f)", batchIndex, originalDuration, newDuration, ratio),
			OldValue:    originalDuration,
			NewValue:    newDuration,
			Impact:      models.DeriveImpact(absf(rel)),
		})
	}

	regenerated := regenerateCommands(step, survivingWL, newDuration, originalDeficit, newDeficit, &result.Changes)
	result.RegeneratedCommands = regenerated

	result.ExecutionTimeAdjustmentS = (newDuration - originalDuration) * 3600
	result.TotalWaterAdjustmentM3 = absf(newDeficit - originalDeficit)

	if absf(result.ExecutionTimeAdjustmentS/3600) > cfg.MaxTimeAdjustHours {
		err := &models.RegenerationRejectedError{BatchIndex: batchIndex, Reason: fmt.Sprintf("time adjustment %.2fh exceeds bound %.2fh", result.ExecutionTimeAdjustmentS/3600, cfg.MaxTimeAdjustHours)}
		result.Error = err.Error()
		return result
	}
	if result.TotalWaterAdjustmentM3 > cfg.MaxWaterAdjustM3 {
		err := &models.RegenerationRejectedError{BatchIndex: batchIndex, Reason: fmt.Sprintf("water adjustment %.1fm3 exceeds bound %.1fm3", result.TotalWaterAdjustmentM3, cfg.MaxWaterAdjustM3)}
		result.Error = err.Error()
		return result
	}

	result.Success = true
	return result
}

// regenerateCommands rewrites the step's command window to newDuration,
// drops field-inlet commands for cancelled fields, and scales every open gate
// "set" command by the batch-wide deficit ratio (new over original). The
// ratio is the same for all gates; it is not computed per gate from the
// fields that gate feeds.
func regenerateCommands(step models.Step, survivingWL map[string]float64, newDuration, originalDeficit, newDeficit float64, changes *[]models.PlanChange) []models.Command {
	tStart := step.TStartH
	tEnd := tStart + newDuration

	flowRatio := 1.0
	if originalDeficit > 0 {
		flowRatio = newDeficit / originalDeficit
	}

	out := make([]models.Command, 0, len(step.Commands))
	for _, cmd := range step.Commands {
		if cmd.TargetKind == models.TargetField {
			if _, ok := survivingWL[cmd.TargetID]; !ok && cmd.Action == models.ActionOpen {
				*changes = append(*changes, models.PlanChange{
					Kind:        models.ChangeFieldRemoved,
					TargetID:    cmd.TargetID,
					Description: fmt.Sprintf("dropped inlet-open command for completed field %s", cmd.TargetID),
					Impact:      models.ImpactMinimal,
				})
				continue
			}
		}

		cmd.TStartH = tStart
		cmd.TEndH = tEnd

		if cmd.TargetKind == models.TargetGate && cmd.Action == models.ActionSet && cmd.Value != nil && *cmd.Value > 0 {
			newVal := clamp(*cmd.Value*flowRatio, 0, 100)
			if newVal != *cmd.Value {
				*changes = append(*changes, models.PlanChange{
					Kind:        models.ChangeFlowRateAdjusted,
					TargetID:    cmd.TargetID,
					Description: fmt.Sprintf("gate %s open_percent %.1f -> %.1f", cmd.TargetID, *cmd.Value, newVal),
					OldValue:    *cmd.Value,
					NewValue:    newVal,
					Impact:      models.DeriveImpact(absf(newVal-*cmd.Value) / 100),
				})
			}
			v := newVal
			cmd.Value = &v
		}

		out = append(out, cmd)
	}
	return out
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
