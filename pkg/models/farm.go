package models

import (
	"regexp"
	"strconv"
	"strings"
)

// GateKind enumerates the recognized gate types. Only MainRegulator and
// BranchRegulator are treated as regulators by the plan builder.
type GateKind string

const (
	GateMainRegulator   GateKind = "main-regulator"
	GateBranchRegulator GateKind = "branch-regulator"
	GateFieldInlet      GateKind = "field-inlet"
	GateFieldDrain      GateKind = "field-drain"
	GateInOut           GateKind = "inout"
	GatePumpValve       GateKind = "pump-valve"
)

// IsRegulatorKind reports whether a gate kind is treated as a regulator by
// the plan builder's per-batch regulator rule.
func IsRegulatorKind(k GateKind) bool {
	return k == GateMainRegulator || k == GateBranchRegulator
}

// SegmentKind distinguishes a farm's two canal-segment roles.
type SegmentKind string

const (
	SegmentMain   SegmentKind = "main"
	SegmentBranch SegmentKind = "branch"
)

// Pump is a pump station. Immutable after load.
type Pump struct {
	Name              string  `json:"name"`
	RatedFlowM3PH     float64 `json:"q_rated_m3ph"`
	Efficiency        float64 `json:"efficiency"`
	PowerKW           float64 `json:"power_kw"`
	ElectricityPrice  float64 `json:"electricity_price"`
}

// EffectiveFlow returns the pump's flow contribution after efficiency loss.
func (p Pump) EffectiveFlow() float64 {
	return p.RatedFlowM3PH * p.Efficiency
}

// Segment is a canal section.
type Segment struct {
	ID               string      `json:"id"`
	CanalID          string      `json:"canal_id"`
	Kind             SegmentKind `json:"kind"`
	DistanceRank     int         `json:"distance_rank"`
	RegulatorGateIDs []string    `json:"regulator_gate_ids"`
	FeedBy           []string    `json:"feed_by"`
}

// Reachable reports whether the segment can be fed by the active pump set.
// An empty FeedBy list is treated as universally reachable.
func (s Segment) Reachable(activePumps map[string]bool) bool {
	if len(s.FeedBy) == 0 {
		return true
	}
	for _, pumpName := range s.FeedBy {
		if activePumps[pumpName] {
			return true
		}
	}
	return false
}

// Gate is a regulator, field-inlet/drain, or pump valve belonging to exactly
// one segment. Its id encodes the segment and a monotone within-segment
// sequence, e.g. "S3-G7".
type Gate struct {
	ID         string   `json:"id"`
	Kind       GateKind `json:"type"`
	MaxFlowM3PH float64 `json:"q_max_m3ph"`
}

var gateIDPattern = regexp.MustCompile(`^(.+)-G(\d+)$`)

// ParseGateID splits a gate id of the form "SEGMENT-Gn" into the owning
// segment id and the within-segment sequence number n.
func ParseGateID(gateID string) (segmentID string, sequence int, err error) {
	m := gateIDPattern.FindStringSubmatch(gateID)
	if m == nil {
		return "", 0, &ValidationError{Field: "gate.id", Message: "id " + gateID + " does not match SEGMENT-Gn: " + ErrInvalidGateID.Error()}
	}
	seq, convErr := strconv.Atoi(m[2])
	if convErr != nil {
		return "", 0, &ValidationError{Field: "gate.id", Message: "sequence component of " + gateID + " is not numeric"}
	}
	return m[1], seq, nil
}

// Field is one irrigated plot.
type Field struct {
	ID            string   `json:"id"`
	SectionID     int      `json:"sectionID"`
	AreaMu        float64  `json:"area_mu"`
	SegmentID     string   `json:"segment_id"`
	InletGateID   string   `json:"inlet_G_id"`
	DistanceRank  int      `json:"distance_rank"`
	WaterLevelMM  *float64 `json:"wl_mm"`
	WLLow         float64  `json:"wl_low"`
	WLOpt         float64  `json:"wl_opt"`
	WLHigh        float64  `json:"wl_high"`
	HasDrainGate  bool     `json:"has_drain_gate"`
	RelToRegulator int     `json:"rel_to_regulator"`
}

// HasKnownLevel reports whether the field's water level is known. A nil
// level excludes the field from planning.
func (f Field) HasKnownLevel() bool {
	return f.WaterLevelMM != nil
}

// InletSequence returns the within-segment sequence number of this field's
// inlet gate, used by the per-batch regulator rule.
func (f Field) InletSequence() (int, error) {
	_, seq, err := ParseGateID(f.InletGateID)
	return seq, err
}

// DeficitM3 returns the irrigation deficit in cubic meters:
// (wl_opt - wl_mm) * area_mu * 0.666667 when wl_mm < wl_opt, else 0.
func (f Field) DeficitM3() float64 {
	if f.WaterLevelMM == nil {
		return 0
	}
	if *f.WaterLevelMM >= f.WLOpt {
		return 0
	}
	return (f.WLOpt - *f.WaterLevelMM) * f.AreaMu * PerMuM3Factor
}

// PerMuM3Factor is the water volume in cubic meters per mu per millimeter of
// depth, used throughout the builder and glossary ("per_mu_m3").
const PerMuM3Factor = 0.666667

// FarmConfig is an immutable snapshot of one farm's topology plus the
// planning parameters for one build.
type FarmConfig struct {
	FarmID          string             `json:"farm_id"`
	TimeWindowH     float64            `json:"t_win_h"`
	TargetDepthMM   float64            `json:"d_target_mm"`
	Pumps           []Pump             `json:"pumps"`
	Segments        []Segment          `json:"segments"`
	Gates           []Gate             `json:"gates"`
	Fields          []Field            `json:"fields"`
	ActivePumpNames []string           `json:"active_pumps,omitempty"`
	AllowedZoneExpr string             `json:"allowed_zone_expr,omitempty"`
}

// PerMuM3 returns the volume (m3) required per mu at this config's target
// depth: per_mu_m3 = 0.666667 * d_target_mm.
func (c *FarmConfig) PerMuM3() float64 {
	return PerMuM3Factor * c.TargetDepthMM
}

// ActivePumps resolves the configured active-pump name subset, defaulting
// to every pump in the topology when none is specified.
func (c *FarmConfig) ActivePumps() []Pump {
	if len(c.ActivePumpNames) == 0 {
		return c.Pumps
	}
	active := make(map[string]bool, len(c.ActivePumpNames))
	for _, n := range c.ActivePumpNames {
		active[n] = true
	}
	var out []Pump
	for _, p := range c.Pumps {
		if active[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// EffectiveCapacity returns Q_avail: the combined effective flow (m3/h) of
// the active pump subset.
func (c *FarmConfig) EffectiveCapacity() float64 {
	var q float64
	for _, p := range c.ActivePumps() {
		q += p.EffectiveFlow()
	}
	return q
}

// SegmentByID indexes segments by id for O(1) lookup. Entities reference
// each other by id, never by back-pointer.
func (c *FarmConfig) SegmentByID() map[string]*Segment {
	m := make(map[string]*Segment, len(c.Segments))
	for i := range c.Segments {
		m[c.Segments[i].ID] = &c.Segments[i]
	}
	return m
}

// GateByID indexes gates by id.
func (c *FarmConfig) GateByID() map[string]*Gate {
	m := make(map[string]*Gate, len(c.Gates))
	for i := range c.Gates {
		m[c.Gates[i].ID] = &c.Gates[i]
	}
	return m
}

// PumpByName indexes pumps by name.
func (c *FarmConfig) PumpByName() map[string]*Pump {
	m := make(map[string]*Pump, len(c.Pumps))
	for i := range c.Pumps {
		m[c.Pumps[i].Name] = &c.Pumps[i]
	}
	return m
}

// Validate checks structural well-formedness of the configuration,
// returning every violation found rather than failing fast, so a caller can
// report them all at once.
func (c *FarmConfig) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.FarmID) == "" {
		errs = append(errs, ValidationError{Field: "farm_id", Message: "is required"})
	}
	if c.TimeWindowH <= 0 {
		errs = append(errs, ValidationError{Field: "t_win_h", Message: "must be positive"})
	}
	if c.TargetDepthMM <= 0 {
		errs = append(errs, ValidationError{Field: "d_target_mm", Message: "must be positive"})
	}
	if len(c.Pumps) == 0 {
		errs = append(errs, ValidationError{Field: "pumps", Message: "at least one pump is required"})
	}

	segmentIDs := c.SegmentByID()
	for _, g := range c.Gates {
		segID, _, err := ParseGateID(g.ID)
		if err != nil {
			errs = append(errs, ValidationError{Field: "gates[" + g.ID + "]", Message: err.Error()})
			continue
		}
		if _, ok := segmentIDs[segID]; !ok {
			errs = append(errs, ValidationError{Field: "gates[" + g.ID + "]", Message: "references unknown segment " + segID})
		}
	}

	for _, f := range c.Fields {
		if _, ok := segmentIDs[f.SegmentID]; !ok {
			errs = append(errs, ValidationError{Field: "fields[" + f.ID + "]", Message: "references unknown segment " + f.SegmentID})
		}
		if f.AreaMu <= 0 {
			errs = append(errs, ValidationError{Field: "fields[" + f.ID + "]", Message: "area_mu must be positive"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
