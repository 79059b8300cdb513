package visualization

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddyworks/irrigate/pkg/models"
)

func testFarm() *models.FarmConfig {
	wl := 40.0
	return &models.FarmConfig{
		FarmID:        "farm-1",
		TimeWindowH:   20,
		TargetDepthMM: 90,
		Pumps: []models.Pump{
			{Name: "P1", RatedFlowM3PH: 300, Efficiency: 0.8},
		},
		Segments: []models.Segment{
			{ID: "S1", DistanceRank: 1, RegulatorGateIDs: []string{"S1-G1"}, FeedBy: []string{"P1"}},
		},
		Gates: []models.Gate{
			{ID: "S1-G1", Kind: models.GateMainRegulator},
			{ID: "S1-G2", Kind: models.GateFieldInlet},
		},
		Fields: []models.Field{
			{ID: "S1-G2-F1", AreaMu: 80, SegmentID: "S1", InletGateID: "S1-G2", DistanceRank: 1, WaterLevelMM: &wl, WLOpt: 50},
		},
	}
}

func TestMermaidRenderTopology(t *testing.T) {
	renderer := NewMermaidRenderer()
	out, err := renderer.Render(testFarm(), nil, DefaultRenderOptions())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "flowchart LR"))
	assert.Contains(t, out, "pump_P1")
	assert.Contains(t, out, "subgraph seg_S1")
	assert.Contains(t, out, "gate_S1_G1")
	assert.Contains(t, out, "field_S1_G2_F1")
	assert.Contains(t, out, "pump_P1 --> seg_S1")
	assert.Contains(t, out, "40/50 mm")
}

func TestMermaidRenderBatchStyling(t *testing.T) {
	cfg := testFarm()
	plan := &models.Plan{
		Batches: []models.Batch{
			{Index: 1, Fields: cfg.Fields},
		},
	}

	renderer := NewMermaidRenderer()
	out, err := renderer.Render(cfg, plan, DefaultRenderOptions())
	require.NoError(t, err)

	assert.Contains(t, out, "classDef batch1")
	assert.Contains(t, out, "class field_S1_G2_F1 batch1")
}

func TestMermaidRenderNilConfigErrors(t *testing.T) {
	renderer := NewMermaidRenderer()
	_, err := renderer.Render(nil, nil, nil)
	require.Error(t, err)
}

func TestMermaidRenderThemeVariablesEmitConfigBlock(t *testing.T) {
	opts := DefaultRenderOptions()
	opts.ThemeVariables = map[string]string{"primaryColor": "#00ff00"}

	renderer := NewMermaidRenderer()
	out, err := renderer.Render(testFarm(), nil, opts)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "---\nconfig:\n"))
	assert.Contains(t, out, "primaryColor: \"#00ff00\"")
}
