package builder

import (
	"fmt"

	"github.com/paddyworks/irrigate/pkg/models"
)

// ScenarioOptions configures the Multi-Scenario Builder.
type ScenarioOptions struct {
	// TriggerThreshold is the minimum eligible field count a pump subset
	// must reach before a scenario is run for it.
	TriggerThreshold int
	Build            Options
}

// EligibleCount returns how many fields would be eligible for planning
// under cfg's active-pump subset and zone filter, without running the full
// batching algorithm. Used by the Multi-Scenario Builder's trigger check.
func EligibleCount(cfg *models.FarmConfig, opts Options) (int, error) {
	zoneFilter, err := resolveZoneFilter(opts)
	if err != nil {
		return 0, err
	}
	activeNames := make(map[string]bool)
	for _, p := range cfg.ActivePumps() {
		activeNames[p.Name] = true
	}
	eligible, _ := filterEligible(cfg, cfg.SegmentByID(), activeNames, zoneFilter)
	return len(eligible), nil
}

// pumpSubset is one candidate active-pump combination for a scenario.
type pumpSubset struct {
	name  string
	pumps []models.Pump
}

// candidateSubsets enumerates the meaningful pump subsets: each single
// pump, plus the full combination when more than one pump is configured.
func candidateSubsets(pumps []models.Pump) []pumpSubset {
	var subsets []pumpSubset
	for _, p := range pumps {
		subsets = append(subsets, pumpSubset{name: "pump-" + p.Name, pumps: []models.Pump{p}})
	}
	if len(pumps) > 1 {
		subsets = append(subsets, pumpSubset{name: "all-pumps", pumps: pumps})
	}
	return subsets
}

func pumpNames(pumps []models.Pump) []string {
	names := make([]string, len(pumps))
	for i, p := range pumps {
		names[i] = p.Name
	}
	return names
}

// BuildScenarios runs the Builder once per pump subset that meets the
// trigger threshold and decorates each resulting Plan with runtime/cost/
// coverage metrics, then picks the minimum-cost, minimum-time, and balanced
// scenarios.
func BuildScenarios(cfg *models.FarmConfig, opts ScenarioOptions) (*models.ScenarioComparison, error) {
	comparison := &models.ScenarioComparison{}

	for _, subset := range candidateSubsets(cfg.Pumps) {
		trial := *cfg
		trial.ActivePumpNames = pumpNames(subset.pumps)

		count, err := EligibleCount(&trial, opts.Build)
		if err != nil {
			return nil, err
		}
		if count < opts.TriggerThreshold {
			continue
		}

		plan, err := Build(&trial, opts.Build)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", subset.name, err)
		}
		plan.ScenarioName = subset.name

		scenario := models.ScenarioPlan{
			Plan:             *plan,
			PumpRuntimeHours: plan.Totals.TotalPumpRuntimeHours,
			ElectricityCost:  plan.Totals.TotalElectricityCost,
			TotalSegments:    len(cfg.Segments),
			CoveredSegments:  coveredSegments(&trial),
		}
		comparison.Scenarios = append(comparison.Scenarios, scenario)
	}

	if len(comparison.Scenarios) == 0 {
		return comparison, nil
	}

	comparison.MinCostName = pickMinCost(comparison.Scenarios)
	comparison.MinTimeName = pickMinTime(comparison.Scenarios)
	comparison.BalancedName = pickBalanced(comparison.Scenarios)
	return comparison, nil
}

func coveredSegments(cfg *models.FarmConfig) int {
	activeNames := make(map[string]bool)
	for _, p := range cfg.ActivePumps() {
		activeNames[p.Name] = true
	}
	covered := 0
	for _, s := range cfg.Segments {
		if s.Reachable(activeNames) {
			covered++
		}
	}
	return covered
}

func pickMinCost(scenarios []models.ScenarioPlan) string {
	best := scenarios[0]
	for _, s := range scenarios[1:] {
		if s.ElectricityCost < best.ElectricityCost {
			best = s
		}
	}
	return best.Plan.ScenarioName
}

func pickMinTime(scenarios []models.ScenarioPlan) string {
	best := scenarios[0]
	for _, s := range scenarios[1:] {
		if s.Plan.Totals.TotalETAHours < best.Plan.Totals.TotalETAHours {
			best = s
		}
	}
	return best.Plan.ScenarioName
}

// pickBalanced normalizes cost and time to [0,1] across scenarios and picks
// the minimum average of the two.
func pickBalanced(scenarios []models.ScenarioPlan) string {
	minCost, maxCost := scenarios[0].ElectricityCost, scenarios[0].ElectricityCost
	minTime, maxTime := scenarios[0].Plan.Totals.TotalETAHours, scenarios[0].Plan.Totals.TotalETAHours
	for _, s := range scenarios[1:] {
		if s.ElectricityCost < minCost {
			minCost = s.ElectricityCost
		}
		if s.ElectricityCost > maxCost {
			maxCost = s.ElectricityCost
		}
		if s.Plan.Totals.TotalETAHours < minTime {
			minTime = s.Plan.Totals.TotalETAHours
		}
		if s.Plan.Totals.TotalETAHours > maxTime {
			maxTime = s.Plan.Totals.TotalETAHours
		}
	}

	costRange := maxCost - minCost
	timeRange := maxTime - minTime

	bestName := scenarios[0].Plan.ScenarioName
	bestScore := 2.0
	for _, s := range scenarios {
		normCost := 0.0
		if costRange > 0 {
			normCost = (s.ElectricityCost - minCost) / costRange
		}
		normTime := 0.0
		if timeRange > 0 {
			normTime = (s.Plan.Totals.TotalETAHours - minTime) / timeRange
		}
		score := (normCost + normTime) / 2
		if score < bestScore {
			bestScore = score
			bestName = s.Plan.ScenarioName
		}
	}
	return bestName
}
