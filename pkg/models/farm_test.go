package models

import "testing"

func TestParseGateID(t *testing.T) {
	tests := []struct {
		name       string
		gateID     string
		wantSeg    string
		wantSeq    int
		wantErr    bool
	}{
		{name: "simple", gateID: "S3-G7", wantSeg: "S3", wantSeq: 7},
		{name: "double digit sequence", gateID: "S12-G34", wantSeg: "S12", wantSeq: 34},
		{name: "missing sequence", gateID: "S3", wantErr: true},
		{name: "non numeric sequence", gateID: "S3-Gx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg, seq, err := ParseGateID(tt.gateID)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seg != tt.wantSeg || seq != tt.wantSeq {
				t.Fatalf("got (%s, %d), want (%s, %d)", seg, seq, tt.wantSeg, tt.wantSeq)
			}
		})
	}
}

func TestIsRegulatorKind(t *testing.T) {
	if !IsRegulatorKind(GateMainRegulator) {
		t.Fatal("main-regulator should be a regulator kind")
	}
	if !IsRegulatorKind(GateBranchRegulator) {
		t.Fatal("branch-regulator should be a regulator kind")
	}
	if IsRegulatorKind(GateFieldInlet) {
		t.Fatal("field-inlet should not be a regulator kind")
	}
}

func TestSegmentReachable(t *testing.T) {
	unconstrained := Segment{ID: "S1"}
	if !unconstrained.Reachable(map[string]bool{}) {
		t.Fatal("empty feed_by must be treated as universally reachable")
	}

	constrained := Segment{ID: "S2", FeedBy: []string{"P1", "P2"}}
	if constrained.Reachable(map[string]bool{"P3": true}) {
		t.Fatal("segment fed only by P1/P2 must not be reachable with only P3 active")
	}
	if !constrained.Reachable(map[string]bool{"P2": true}) {
		t.Fatal("segment fed by P2 must be reachable with P2 active")
	}
}

func TestFieldDeficitM3(t *testing.T) {
	wl := 40.0
	f := Field{AreaMu: 80, WLOpt: 50, WaterLevelMM: &wl}
	got := f.DeficitM3()
	want := (50.0 - 40.0) * 80 * PerMuM3Factor
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}

	above := Field{AreaMu: 80, WLOpt: 50, WaterLevelMM: func() *float64 { v := 60.0; return &v }()}
	if above.DeficitM3() != 0 {
		t.Fatal("field above target should have zero deficit")
	}

	unknown := Field{AreaMu: 80, WLOpt: 50}
	if unknown.DeficitM3() != 0 {
		t.Fatal("field with unknown level should have zero deficit")
	}
}

func TestFarmConfigEffectiveCapacity(t *testing.T) {
	cfg := &FarmConfig{
		Pumps: []Pump{
			{Name: "P1", RatedFlowM3PH: 300, Efficiency: 0.8},
			{Name: "P2", RatedFlowM3PH: 300, Efficiency: 0.8},
		},
	}
	got := cfg.EffectiveCapacity()
	want := 300*0.8 + 300*0.8
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}

	cfg.ActivePumpNames = []string{"P1"}
	got = cfg.EffectiveCapacity()
	want = 300 * 0.8
	if got != want {
		t.Fatalf("got %v want %v with active-pump subset", got, want)
	}
}

func TestFarmConfigValidate(t *testing.T) {
	cfg := &FarmConfig{
		FarmID:        "farm-1",
		TimeWindowH:   20,
		TargetDepthMM: 90,
		Pumps:         []Pump{{Name: "P1", RatedFlowM3PH: 300, Efficiency: 0.8}},
		Segments:      []Segment{{ID: "S1"}},
		Gates:         []Gate{{ID: "S1-G1", Kind: GateMainRegulator}},
		Fields:        []Field{{ID: "S1-G1-F1", AreaMu: 10, SegmentID: "S1"}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Pumps = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error with no pumps")
	}
}
