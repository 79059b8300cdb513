package models

import (
	"encoding/json"
	"fmt"
	"os"
)

// farmConfigDoc mirrors the external farm configuration document for JSON
// decoding. Unknown keys are ignored (encoding/json's default behavior).
type farmConfigDoc struct {
	FarmID      string  `json:"farm_id"`
	TimeWindowH float64 `json:"t_win_h"`
	TargetMM    float64 `json:"d_target_mm"`
	Pumps       []Pump  `json:"pumps"`
	Segments    []struct {
		ID               string   `json:"id"`
		CanalID          string   `json:"canal_id"`
		DistanceRank     int      `json:"distance_rank"`
		RegulatorGateIDs []string `json:"regulator_gate_ids"`
		FeedBy           []string `json:"feed_by"`
	} `json:"segments"`
	Gates []Gate `json:"gates"`
	Fields []struct {
		ID             string   `json:"id"`
		SectionID      int      `json:"sectionID"`
		AreaMu         float64  `json:"area_mu"`
		SegmentID      string   `json:"segment_id"`
		InletGateID    string   `json:"inlet_G_id"`
		DistanceRank   int      `json:"distance_rank"`
		WaterLevelMM   *float64 `json:"wl_mm"`
		WLLow          *float64 `json:"wl_low"`
		WLOpt          *float64 `json:"wl_opt"`
		WLHigh         *float64 `json:"wl_high"`
		HasDrainGate   bool     `json:"has_drain_gate"`
		RelToRegulator int      `json:"rel_to_regulator"`
	} `json:"fields"`
	ActivePumps     []string `json:"active_pumps"`
	AllowedZoneExpr string   `json:"allowed_zone_expr"`
}

// Documented defaults applied at load time for optional fields (DESIGN
// NOTES: "Dynamic configuration & optional fields").
const (
	DefaultWLLow = 0.0
	DefaultWLOpt = 50.0
	DefaultWLHigh = 80.0
)

// LoadFarmConfig reads and decodes a farm configuration document from disk,
// applying documented defaults to optional fields and classifying segments
// as main/branch by convention (a segment with a non-empty feed_by list is a
// branch; a segment without one is main). The classification is advisory — segment.Kind is informational and
// does not affect reachability or eligibility, which key off FeedBy alone.
func LoadFarmConfig(path string) (*FarmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read farm config %s: %w", path, err)
	}
	return DecodeFarmConfig(data)
}

// DecodeFarmConfig decodes a farm configuration document from JSON bytes,
// used by LoadFarmConfig and directly by tests/embedding callers.
func DecodeFarmConfig(data []byte) (*FarmConfig, error) {
	var doc farmConfigDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFarmConfig, err)
	}

	cfg := &FarmConfig{
		FarmID:          doc.FarmID,
		TimeWindowH:     doc.TimeWindowH,
		TargetDepthMM:   doc.TargetMM,
		Pumps:           doc.Pumps,
		Gates:           doc.Gates,
		ActivePumpNames: doc.ActivePumps,
		AllowedZoneExpr: doc.AllowedZoneExpr,
	}

	for _, s := range doc.Segments {
		kind := SegmentMain
		if len(s.FeedBy) > 0 {
			kind = SegmentBranch
		}
		cfg.Segments = append(cfg.Segments, Segment{
			ID:               s.ID,
			CanalID:          s.CanalID,
			Kind:             kind,
			DistanceRank:     s.DistanceRank,
			RegulatorGateIDs: s.RegulatorGateIDs,
			FeedBy:           s.FeedBy,
		})
	}

	for _, f := range doc.Fields {
		field := Field{
			ID:             f.ID,
			SectionID:      f.SectionID,
			AreaMu:         f.AreaMu,
			SegmentID:      f.SegmentID,
			InletGateID:    f.InletGateID,
			DistanceRank:   f.DistanceRank,
			WaterLevelMM:   f.WaterLevelMM,
			WLLow:          orDefault(f.WLLow, DefaultWLLow),
			WLOpt:          orDefault(f.WLOpt, DefaultWLOpt),
			WLHigh:         orDefault(f.WLHigh, DefaultWLHigh),
			HasDrainGate:   f.HasDrainGate,
			RelToRegulator: f.RelToRegulator,
		}
		cfg.Fields = append(cfg.Fields, field)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
