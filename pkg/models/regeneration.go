package models

// PlanChangeKind enumerates the semantic deltas the Plan Regenerator can
// emit for one batch regeneration.
type PlanChangeKind string

const (
	ChangeDurationAdjusted  PlanChangeKind = "duration_adjusted"
	ChangeFlowRateAdjusted  PlanChangeKind = "flow_rate_adjusted"
	ChangeTimingShifted     PlanChangeKind = "timing_shifted"
	ChangeFieldAdded        PlanChangeKind = "field_added"
	ChangeFieldRemoved      PlanChangeKind = "field_removed"
	ChangeBatchSplit        PlanChangeKind = "batch_split"
	ChangeBatchMerged       PlanChangeKind = "batch_merged"
	ChangeCancelled         PlanChangeKind = "cancelled"
)

// ImpactLevel classifies the relative magnitude of a PlanChange.
type ImpactLevel string

const (
	ImpactMinimal     ImpactLevel = "minimal"
	ImpactModerate    ImpactLevel = "moderate"
	ImpactSignificant ImpactLevel = "significant"
	ImpactCritical    ImpactLevel = "critical"
)

// DeriveImpact classifies a relative magnitude (e.g. |delta|/original) into
// an ImpactLevel using the thresholds 5% / 20% / 50%.
func DeriveImpact(relativeMagnitude float64) ImpactLevel {
	switch {
	case relativeMagnitude < 0.05:
		return ImpactMinimal
	case relativeMagnitude < 0.20:
		return ImpactModerate
	case relativeMagnitude < 0.50:
		return ImpactSignificant
	default:
		return ImpactCritical
	}
}

// PlanChange is one typed, impact-tagged delta produced by a batch
// regeneration.
type PlanChange struct {
	Kind        PlanChangeKind `json:"kind"`
	TargetID    string         `json:"target_id"`
	Description string         `json:"description"`
	OldValue    float64        `json:"old_value"`
	NewValue    float64        `json:"new_value"`
	Impact      ImpactLevel    `json:"impact"`
}

// BatchRegenerationResult is the output of one Plan Regenerator invocation
// against a single batch.
type BatchRegenerationResult struct {
	Success                  bool              `json:"success"`
	BatchIndex               int               `json:"batch_index"`
	OriginalCommands         []Command         `json:"original_commands"`
	RegeneratedCommands      []Command         `json:"regenerated_commands"`
	Changes                  []PlanChange      `json:"changes"`
	WaterLevelChanges        map[string]float64 `json:"water_level_changes"`
	ExecutionTimeAdjustmentS float64           `json:"execution_time_adjustment_s"`
	TotalWaterAdjustmentM3   float64           `json:"total_water_adjustment_m3"`
	Error                    string            `json:"error,omitempty"`
}
