// Package builder turns a farm configuration snapshot into a batched,
// time-scheduled irrigation plan, and compares plans across pump subsets.
package builder

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/paddyworks/irrigate/pkg/models"
)

// ZoneFilter predicates whether a field is inside the allowed-zone
// restriction. Returning true admits the field to eligibility.
type ZoneFilter func(field models.Field, segment models.Segment) bool

// Options configures one Build call.
type Options struct {
	// AllowedZoneExpr, when non-empty, is compiled as a github.com/expr-lang/expr
	// boolean expression evaluated once per field over a {field, segment}
	// environment. Ignored when ZoneFilter is set.
	AllowedZoneExpr string
	// ZoneFilter, when set, takes precedence over AllowedZoneExpr. Nil means
	// every reachable field passes (no zone restriction).
	ZoneFilter ZoneFilter
}

type zoneEnv struct {
	Field   models.Field   `expr:"field"`
	Segment models.Segment `expr:"segment"`
}

func compileZoneExpr(source string) (*vm.Program, error) {
	return expr.Compile(source, expr.Env(zoneEnv{}), expr.AsBool())
}

// resolveZoneFilter builds the ZoneFilter to use for a Build call, compiling
// AllowedZoneExpr when no explicit closure was supplied.
func resolveZoneFilter(opts Options) (ZoneFilter, error) {
	if opts.ZoneFilter != nil {
		return opts.ZoneFilter, nil
	}
	if opts.AllowedZoneExpr == "" {
		return func(models.Field, models.Segment) bool { return true }, nil
	}

	program, err := compileZoneExpr(opts.AllowedZoneExpr)
	if err != nil {
		return nil, fmt.Errorf("compile allowed_zone_expr: %w", err)
	}
	return func(f models.Field, s models.Segment) bool {
		out, err := expr.Run(program, zoneEnv{Field: f, Segment: s})
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}, nil
}

// Build runs the full planning algorithm against a farm configuration
// snapshot, producing a fully timed, command-annotated Plan. Build never errors on a zero-eligible-field input; it returns a
// well-formed, empty plan instead.
func Build(cfg *models.FarmConfig, opts Options) (*models.Plan, error) {
	zoneFilter, err := resolveZoneFilter(opts)
	if err != nil {
		return nil, err
	}

	activePumps := cfg.ActivePumps()
	qAvail := cfg.EffectiveCapacity()
	perMu := cfg.PerMuM3()
	aCover := 0.0
	if perMu > 0 {
		aCover = qAvail * cfg.TimeWindowH / perMu
	}

	activeNames := make(map[string]bool, len(activePumps))
	activePumpNames := make([]string, 0, len(activePumps))
	for _, p := range activePumps {
		activeNames[p.Name] = true
		activePumpNames = append(activePumpNames, p.Name)
	}

	segByID := cfg.SegmentByID()
	gateByID := cfg.GateByID()

	eligible, skippedNullWL := filterEligible(cfg, segByID, activeNames, zoneFilter)
	sortFields(eligible, segByID)
	batches := batchByCapacity(eligible, aCover)

	plan := &models.Plan{
		FarmID: cfg.FarmID,
		Calc: models.PlanCalc{
			ACoverMu:            aCover,
			QAvail:              qAvail,
			TimeWindowH:         cfg.TimeWindowH,
			TargetDepthMM:       cfg.TargetDepthMM,
			ActivePumps:         activePumpNames,
			SkippedNullWLCount:  len(skippedNullWL),
			SkippedNullWLFields: skippedNullWL,
		},
		Totals: models.PlanTotals{
			TotalPumpRuntimeHours: map[string]float64{},
		},
	}

	cumulative := 0.0
	for i, fields := range batches {
		index := i + 1
		batch := buildBatch(index, fields, perMu)
		gateSettings := regulatorSettings(cfg, segByID, gateByID, fields)

		eta := 0.0
		if qAvail > 0 {
			eta = batch.AreaMu() * perMu / qAvail
		}
		batch.Stats.ETAHours = eta

		tStart := cumulative
		tEnd := tStart + eta
		cumulative = tEnd

		step := buildStep(index, tStart, tEnd, activePumpNames, gateSettings, fields)

		plan.Batches = append(plan.Batches, batch)
		plan.Steps = append(plan.Steps, step)

		plan.Totals.TotalDeficitM3 += batch.Stats.DeficitVolM3
		for _, name := range activePumpNames {
			plan.Totals.TotalPumpRuntimeHours[name] += eta
		}
	}

	plan.Totals.TotalETAHours = cumulative
	for _, p := range activePumps {
		plan.Totals.TotalElectricityCost += plan.Totals.TotalPumpRuntimeHours[p.Name] * p.PowerKW * p.ElectricityPrice
	}

	return plan, nil
}

// filterEligible applies the reachability, zone, and eligibility filters
//. Fields whose segment is unreachable or fails
// the zone filter are silently excluded (not counted in the null-WL skip
// list); only fields with a genuinely null water level are tracked there.
func filterEligible(cfg *models.FarmConfig, segByID map[string]*models.Segment, activeNames map[string]bool, zoneFilter ZoneFilter) ([]models.Field, []string) {
	var eligible []models.Field
	var skippedNullWL []string

	for _, f := range cfg.Fields {
		seg, ok := segByID[f.SegmentID]
		if !ok {
			continue
		}
		if !seg.Reachable(activeNames) {
			continue
		}
		if !zoneFilter(f, *seg) {
			continue
		}
		if !f.HasKnownLevel() {
			skippedNullWL = append(skippedNullWL, f.ID)
			continue
		}
		eligible = append(eligible, f)
	}
	return eligible, skippedNullWL
}

// sortFields applies the stable lexicographic sort by
// (segment.distance_rank, field.distance_rank, field.id).
func sortFields(fields []models.Field, segByID map[string]*models.Segment) {
	sort.SliceStable(fields, func(i, j int) bool {
		si, sj := segByID[fields[i].SegmentID], segByID[fields[j].SegmentID]
		if si.DistanceRank != sj.DistanceRank {
			return si.DistanceRank < sj.DistanceRank
		}
		if fields[i].DistanceRank != fields[j].DistanceRank {
			return fields[i].DistanceRank < fields[j].DistanceRank
		}
		return fields[i].ID < fields[j].ID
	})
}

// batchByCapacity greedily fills batches by area. The comparison allows a
// relative slack of 1e-6 so that the rounding in the 0.666667 per-mu factor
// does not split a batch whose area exactly fills A_cover_mu.
func batchByCapacity(fields []models.Field, aCover float64) [][]models.Field {
	var batches [][]models.Field
	var current []models.Field
	area := 0.0
	limit := aCover * (1 + 1e-6)

	for _, f := range fields {
		if len(current) > 0 && area+f.AreaMu > limit {
			batches = append(batches, current)
			current = nil
			area = 0
		}
		current = append(current, f)
		area += f.AreaMu
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func buildBatch(index int, fields []models.Field, perMu float64) models.Batch {
	batch := models.Batch{Index: index, Fields: fields}
	area := batch.AreaMu()
	var deficit float64
	for _, f := range fields {
		deficit += f.DeficitM3()
	}
	batch.Stats.DeficitVolM3 = deficit
	batch.Stats.CapVolM3 = area * perMu
	return batch
}

// regulatorSettings implements the per-batch regulator rule: for each
// segment with a field in this batch or a main regulator, compute every
// regulator gate's open percent.
func regulatorSettings(cfg *models.FarmConfig, segByID map[string]*models.Segment, gateByID map[string]*models.Gate, batchFields []models.Field) []models.GateSetting {
	fieldsInSegment := make(map[string][]models.Field)
	for _, f := range batchFields {
		fieldsInSegment[f.SegmentID] = append(fieldsInSegment[f.SegmentID], f)
	}

	var settings []models.GateSetting
	for _, seg := range cfg.Segments {
		hasMainRegulator := false
		for _, gid := range seg.RegulatorGateIDs {
			if g, ok := gateByID[gid]; ok && g.Kind == models.GateMainRegulator {
				hasMainRegulator = true
				break
			}
		}
		if len(fieldsInSegment[seg.ID]) == 0 && !hasMainRegulator {
			continue
		}

		for _, gid := range seg.RegulatorGateIDs {
			gate, ok := gateByID[gid]
			if !ok || !models.IsRegulatorKind(gate.Kind) {
				continue
			}
			_, k, err := models.ParseGateID(gate.ID)
			if err != nil {
				continue
			}

			var compareSet []models.Field
			if gate.Kind == models.GateMainRegulator {
				for sID, fields := range fieldsInSegment {
					if sID != seg.ID {
						compareSet = append(compareSet, fields...)
					}
				}
			} else {
				compareSet = fieldsInSegment[seg.ID]
			}

			open := false
			for _, f := range compareSet {
				seq, err := f.InletSequence()
				if err != nil {
					continue
				}
				if gate.Kind == models.GateMainRegulator {
					if seq <= k {
						open = true
						break
					}
				} else if seq >= k {
					open = true
					break
				}
			}

			openPercent := 0.0
			if open {
				openPercent = 100.0
			}
			settings = append(settings, models.GateSetting{GateID: gate.ID, OpenPercent: openPercent})
		}
	}

	sort.SliceStable(settings, func(i, j int) bool {
		_, ki, _ := models.ParseGateID(settings[i].GateID)
		_, kj, _ := models.ParseGateID(settings[j].GateID)
		if ki != kj {
			return ki < kj
		}
		return settings[i].GateID < settings[j].GateID
	})
	return settings
}

// buildStep emits the step's commands in dispatch order: pumps start,
// regulator set (sorted by within-segment sequence), field-inlet open,
// pumps stop (reverse order).
func buildStep(index int, tStart, tEnd float64, activePumpNames []string, gateSettings []models.GateSetting, fields []models.Field) models.Step {
	var fullOrder []models.Command

	for _, name := range activePumpNames {
		fullOrder = append(fullOrder, models.Command{
			Action: models.ActionStart, TargetKind: models.TargetPump, TargetID: name, TStartH: tStart, TEndH: tEnd,
		})
	}

	var gatesOpen []string
	for _, gs := range gateSettings {
		gs := gs
		fullOrder = append(fullOrder, models.Command{
			Action: models.ActionSet, TargetKind: models.TargetGate, TargetID: gs.GateID, Value: &gs.OpenPercent, TStartH: tStart, TEndH: tEnd,
		})
		if gs.OpenPercent > 0 {
			gatesOpen = append(gatesOpen, gs.GateID)
		}
	}

	var fieldIDs []string
	for _, f := range fields {
		fieldIDs = append(fieldIDs, f.ID)
		fullOrder = append(fullOrder, models.Command{
			Action: models.ActionOpen, TargetKind: models.TargetField, TargetID: f.ID, TStartH: tStart, TEndH: tEnd,
		})
	}

	for i := len(activePumpNames) - 1; i >= 0; i-- {
		fullOrder = append(fullOrder, models.Command{
			Action: models.ActionStop, TargetKind: models.TargetPump, TargetID: activePumpNames[i], TStartH: tStart, TEndH: tEnd,
		})
	}

	pumpsOff := make([]string, len(activePumpNames))
	for i, name := range activePumpNames {
		pumpsOff[len(activePumpNames)-1-i] = name
	}

	return models.Step{
		Label:    fmt.Sprintf("batch-%d", index),
		TStartH:  tStart,
		TEndH:    tEnd,
		Commands: fullOrder,
		Sequence: models.StepSequence{
			PumpsOn:   activePumpNames,
			GatesOpen: gatesOpen,
			GatesSet:  gateSettings,
			Fields:    fieldIDs,
			PumpsOff:  pumpsOff,
		},
		FullOrder: fullOrder,
	}
}
