package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddyworks/irrigate/pkg/models"
)

// scenarioFarm builds a two-pump farm where each pump reaches a different
// segment, so single-pump scenarios differ in coverage and cost.
func scenarioFarm() *models.FarmConfig {
	return &models.FarmConfig{
		FarmID:        "farm-1",
		TimeWindowH:   20,
		TargetDepthMM: 90,
		Pumps: []models.Pump{
			{Name: "P1", RatedFlowM3PH: 300, Efficiency: 0.8, PowerKW: 30, ElectricityPrice: 0.6},
			{Name: "P2", RatedFlowM3PH: 150, Efficiency: 0.8, PowerKW: 15, ElectricityPrice: 0.6},
		},
		Segments: []models.Segment{
			{ID: "S1", DistanceRank: 1, RegulatorGateIDs: []string{"S1-G1"}, FeedBy: []string{"P1"}},
			{ID: "S2", DistanceRank: 2, RegulatorGateIDs: []string{"S2-G1"}, FeedBy: []string{"P2"}},
		},
		Gates: []models.Gate{
			{ID: "S1-G1", Kind: models.GateMainRegulator},
			{ID: "S1-G2", Kind: models.GateFieldInlet},
			{ID: "S2-G1", Kind: models.GateBranchRegulator},
			{ID: "S2-G2", Kind: models.GateFieldInlet},
		},
		Fields: []models.Field{
			{ID: "S1-G2-F1", SegmentID: "S1", DistanceRank: 1, AreaMu: 40, InletGateID: "S1-G2", WaterLevelMM: wl(40), WLOpt: 90},
			{ID: "S2-G2-F2", SegmentID: "S2", DistanceRank: 1, AreaMu: 40, InletGateID: "S2-G2", WaterLevelMM: wl(50), WLOpt: 90},
		},
	}
}

func TestBuildScenariosEnumeratesSinglePumpsAndFullCombination(t *testing.T) {
	comparison, err := BuildScenarios(scenarioFarm(), ScenarioOptions{TriggerThreshold: 1})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, s := range comparison.Scenarios {
		names[s.Plan.ScenarioName] = true
	}
	assert.True(t, names["pump-P1"])
	assert.True(t, names["pump-P2"])
	assert.True(t, names["all-pumps"])
}

func TestBuildScenariosTriggerThresholdSkipsSparseSubsets(t *testing.T) {
	// Each single pump reaches exactly one field; a threshold of 2 admits
	// only the full combination.
	comparison, err := BuildScenarios(scenarioFarm(), ScenarioOptions{TriggerThreshold: 2})
	require.NoError(t, err)

	require.Len(t, comparison.Scenarios, 1)
	assert.Equal(t, "all-pumps", comparison.Scenarios[0].Plan.ScenarioName)
}

func TestBuildScenariosCoverageCountsReachableSegments(t *testing.T) {
	comparison, err := BuildScenarios(scenarioFarm(), ScenarioOptions{TriggerThreshold: 1})
	require.NoError(t, err)

	byName := map[string]models.ScenarioPlan{}
	for _, s := range comparison.Scenarios {
		byName[s.Plan.ScenarioName] = s
	}

	assert.Equal(t, 1, byName["pump-P1"].CoveredSegments)
	assert.Equal(t, 2, byName["pump-P1"].TotalSegments)
	assert.Equal(t, 2, byName["all-pumps"].CoveredSegments)
}

func TestBuildScenariosCostUsesPerPumpPower(t *testing.T) {
	comparison, err := BuildScenarios(scenarioFarm(), ScenarioOptions{TriggerThreshold: 1})
	require.NoError(t, err)

	byName := map[string]models.ScenarioPlan{}
	for _, s := range comparison.Scenarios {
		byName[s.Plan.ScenarioName] = s
	}

	// pump-P1: Q=240, one 40mu field, per_mu=60 -> eta = 40*60/240 = 10h.
	// cost = 10h * 30kW * 0.6.
	p1 := byName["pump-P1"]
	require.InDelta(t, 10.0, p1.Plan.Totals.TotalETAHours, 0.001)
	assert.InDelta(t, 10*30*0.6, p1.ElectricityCost, 0.001)

	// pump-P2: Q=120 -> eta = 40*60/120 = 20h; cost = 20h * 15kW * 0.6.
	p2 := byName["pump-P2"]
	require.InDelta(t, 20.0, p2.Plan.Totals.TotalETAHours, 0.001)
	assert.InDelta(t, 20*15*0.6, p2.ElectricityCost, 0.001)
}

func TestBuildScenariosPicksMinCostMinTimeAndBalanced(t *testing.T) {
	comparison, err := BuildScenarios(scenarioFarm(), ScenarioOptions{TriggerThreshold: 1})
	require.NoError(t, err)
	require.NotEmpty(t, comparison.Scenarios)

	assert.NotEmpty(t, comparison.MinCostName)
	assert.NotEmpty(t, comparison.MinTimeName)
	assert.NotEmpty(t, comparison.BalancedName)

	// all-pumps covers both fields fastest: both fields fit one batch at
	// Q=360, eta = 80*60/360 ≈ 13.33h, versus 10h+? single pumps each only
	// cover one field, so min-time across full-coverage comparisons still
	// resolves deterministically from the recorded totals.
	names := map[string]bool{}
	for _, s := range comparison.Scenarios {
		names[s.Plan.ScenarioName] = true
	}
	assert.True(t, names[comparison.MinCostName])
	assert.True(t, names[comparison.MinTimeName])
	assert.True(t, names[comparison.BalancedName])
}

func TestBuildScenariosEmptyWhenNothingMeetsThreshold(t *testing.T) {
	comparison, err := BuildScenarios(scenarioFarm(), ScenarioOptions{TriggerThreshold: 99})
	require.NoError(t, err)
	assert.Empty(t, comparison.Scenarios)
	assert.Empty(t, comparison.MinCostName)
}
