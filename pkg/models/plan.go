package models

// CommandAction enumerates the declarative device actions the builder and
// regenerator emit. The Dispatcher maps these to concrete device calls.
type CommandAction string

const (
	ActionStart CommandAction = "start"
	ActionStop  CommandAction = "stop"
	ActionOpen  CommandAction = "open"
	ActionClose CommandAction = "close"
	ActionSet   CommandAction = "set"
)

// CommandTargetKind identifies what kind of device a command addresses.
type CommandTargetKind string

const (
	TargetPump    CommandTargetKind = "pump"
	TargetGate    CommandTargetKind = "gate"
	TargetField   CommandTargetKind = "field"
)

// Command is one declarative instruction in a step's command list.
type Command struct {
	Action     CommandAction     `json:"action"`
	TargetKind CommandTargetKind `json:"target_kind"`
	TargetID   string            `json:"target_id"`
	Value      *float64          `json:"value,omitempty"`
	TStartH    float64           `json:"t_start_h"`
	TEndH      float64           `json:"t_end_h"`
}

// GateSetting is one regulator's computed open-percent for a step.
type GateSetting struct {
	GateID     string  `json:"gate_id"`
	OpenPercent float64 `json:"open_percent"`
}

// StepSequence is the structured projection of a step's commands, grouped
// by device role, used by the executor for ordering.
type StepSequence struct {
	PumpsOn     []string      `json:"pumps_on"`
	GatesOpen   []string      `json:"gates_open"`
	GatesSet    []GateSetting `json:"gates_set"`
	Fields      []string      `json:"fields"`
	PumpsOff    []string      `json:"pumps_off"`
}

// Step is the timed command projection of one batch.
type Step struct {
	Label    string       `json:"label"`
	TStartH  float64      `json:"t_start_h"`
	TEndH    float64      `json:"t_end_h"`
	Commands []Command    `json:"commands"`
	Sequence StepSequence `json:"sequence"`
	FullOrder []Command   `json:"full_order"`
}

// Duration returns the step's planned duration in hours.
func (s Step) Duration() float64 {
	return s.TEndH - s.TStartH
}

// BatchStats carries the per-batch derived metrics reported alongside a
// batch in the plan output artifact.
type BatchStats struct {
	DeficitVolM3 float64 `json:"deficit_vol_m3"`
	CapVolM3     float64 `json:"cap_vol_m3"`
	ETAHours     float64 `json:"eta_hours"`
}

// Batch is an ordered set of fields that fit within one pump-capacity ×
// time-window envelope.
type Batch struct {
	Index  int         `json:"index"`
	Fields []Field     `json:"fields"`
	Stats  BatchStats  `json:"stats"`
}

// AreaMu returns the total area of the batch's fields.
func (b Batch) AreaMu() float64 {
	var a float64
	for _, f := range b.Fields {
		a += f.AreaMu
	}
	return a
}

// PlanCalc is the global calculation block attached to a built plan.
type PlanCalc struct {
	ACoverMu             float64  `json:"A_cover_mu"`
	QAvail               float64  `json:"q_avail"`
	TimeWindowH          float64  `json:"t_win_h"`
	TargetDepthMM        float64  `json:"d_target_mm"`
	ActivePumps          []string `json:"active_pumps"`
	SkippedNullWLCount   int      `json:"skipped_null_wl_count"`
	SkippedNullWLFields  []string `json:"skipped_null_wl_fields"`
}

// PlanTotals aggregates plan-wide derived metrics.
type PlanTotals struct {
	TotalETAHours         float64            `json:"total_eta_h"`
	TotalDeficitM3        float64            `json:"total_deficit_m3"`
	TotalPumpRuntimeHours map[string]float64 `json:"total_pump_runtime_hours"`
	TotalElectricityCost  float64            `json:"total_electricity_cost"`
}

// Plan is the output artifact of the Plan Builder: an ordered sequence of
// batches and their aligned steps.
type Plan struct {
	FarmID  string     `json:"farm_id"`
	Calc    PlanCalc   `json:"calc"`
	Batches []Batch    `json:"batches"`
	Steps   []Step     `json:"steps"`
	Totals  PlanTotals `json:"totals"`

	// ScenarioName is set when this plan is one entry of a multi-scenario
	// comparison (pkg/builder's Multi-Scenario Builder); empty otherwise.
	ScenarioName string `json:"scenario_name,omitempty"`
}

// ScenarioPlan decorates a Plan with the Multi-Scenario Builder's derived
// comparison metrics.
type ScenarioPlan struct {
	Plan                 Plan               `json:"plan"`
	PumpRuntimeHours     map[string]float64 `json:"pump_runtime_hours"`
	ElectricityCost      float64            `json:"electricity_cost"`
	CoveredSegments      int                `json:"covered_segments"`
	TotalSegments        int                `json:"total_segments"`
}

// ScenarioComparison wraps one or more scenario plans together with the
// comparison step's picks.
type ScenarioComparison struct {
	Scenarios     []ScenarioPlan `json:"scenarios"`
	MinCostName   string         `json:"min_cost_scenario"`
	MinTimeName   string         `json:"min_time_scenario"`
	BalancedName  string         `json:"balanced_scenario"`
}
