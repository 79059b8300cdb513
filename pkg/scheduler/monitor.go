package scheduler

import (
	"sync"
	"time"

	"github.com/paddyworks/irrigate/pkg/models"
	"github.com/paddyworks/irrigate/pkg/waterlevel"
)

// MonitorConfig holds the tolerance used to decide a field has reached its
// target depth. Check runs once per scheduler tick; PollInterval does not
// change that cadence, and a non-positive value only makes NewMonitor fall
// back to DefaultMonitorConfig.
type MonitorConfig struct {
	PollInterval time.Duration
	ToleranceMM  float64
}

// DefaultMonitorConfig mirrors the regenerator's completion tolerance.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{PollInterval: time.Minute, ToleranceMM: 2}
}

// BatchProgress tracks which devices a running batch has already had
// closed, so repeated Check calls emit each close command exactly once.
type BatchProgress struct {
	DoneFields   map[string]bool
	ClosedGates  map[string]bool
	StoppedPumps map[string]bool
}

// NewBatchProgress returns empty completion-tracking state for one batch.
func NewBatchProgress() *BatchProgress {
	return &BatchProgress{
		DoneFields:   make(map[string]bool),
		ClosedGates:  make(map[string]bool),
		StoppedPumps: make(map[string]bool),
	}
}

// AllFieldsDone reports whether every field in fieldIDs has been marked
// done.
func (p *BatchProgress) AllFieldsDone(fieldIDs []string) bool {
	for _, id := range fieldIDs {
		if !p.DoneFields[id] {
			return false
		}
	}
	return true
}

// Monitor watches live readings
// during a batch's execution and emits close-inlet / close-regulator /
// stop-pump commands bottom-up as fields reach target.
type Monitor struct {
	store *waterlevel.Store
	cfg   MonitorConfig

	mu        sync.Mutex
	overrides map[string]models.WaterLevelReading
}

// NewMonitor builds a Completion Monitor backed by the shared water-level
// store.
func NewMonitor(store *waterlevel.Store, cfg MonitorConfig) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg = DefaultMonitorConfig()
	}
	return &Monitor{store: store, cfg: cfg, overrides: make(map[string]models.WaterLevelReading)}
}

// SetOverride installs a manual water-level reading for one field, used by
// the monitor until a newer live reading supersedes it. Plan Regenerator
// invocations outside the normal cadence call this.
func (m *Monitor) SetOverride(fieldID string, reading models.WaterLevelReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[fieldID] = reading
}

// readingFor resolves the reading to judge completion against: a manual
// override, unless the store's latest admitted reading for the field is
// newer.
func (m *Monitor) readingFor(fieldID string) (models.WaterLevelReading, bool) {
	latest, hasLatest := m.store.Latest(fieldID)

	m.mu.Lock()
	override, hasOverride := m.overrides[fieldID]
	if hasOverride && hasLatest && !latest.Timestamp.After(override.Timestamp) {
		m.mu.Unlock()
		return override, true
	}
	if hasOverride && !hasLatest {
		m.mu.Unlock()
		return override, true
	}
	if hasOverride && hasLatest && latest.Timestamp.After(override.Timestamp) {
		delete(m.overrides, fieldID)
	}
	m.mu.Unlock()

	return latest, hasLatest
}

// Check evaluates one executing batch's fields against current readings
// and returns the bottom-up close commands newly due. Whether the whole
// batch has finished closing down is reported separately by
// BatchProgress.Done.
func (m *Monitor) Check(
	batch models.Batch,
	gateSettings []models.GateSetting,
	activePumpNames []string,
	pumpStillNeededElsewhere func(pumpName string) bool,
	progress *BatchProgress,
) []DeviceCommand {
	var cmds []DeviceCommand

	fieldsBySegment := make(map[string][]models.Field)
	for _, f := range batch.Fields {
		fieldsBySegment[f.SegmentID] = append(fieldsBySegment[f.SegmentID], f)

		if progress.DoneFields[f.ID] {
			continue
		}
		reading, ok := m.readingFor(f.ID)
		if !ok {
			continue
		}
		if reading.ValueMM+m.cfg.ToleranceMM < f.WLOpt {
			continue
		}
		progress.DoneFields[f.ID] = true
		cmds = append(cmds, DeviceCommand{
			DeviceType:  DeviceFieldInletGate,
			DeviceID:    f.InletGateID,
			Action:      models.ActionClose,
			Phase:       PhaseWrapup,
			Priority:    PriorityFieldInlet,
			Reason:      "field reached target water level",
			Description: "close field-inlet " + f.InletGateID + " for field " + f.ID,
		})
	}

	for segID, fields := range fieldsBySegment {
		if !progress.AllFieldsDone(fieldIDs(fields)) {
			continue
		}
		for _, gs := range gateSettings {
			if gs.OpenPercent <= 0 || progress.ClosedGates[gs.GateID] {
				continue
			}
			gateSegID, _, err := models.ParseGateID(gs.GateID)
			if err != nil || gateSegID != segID {
				continue
			}
			progress.ClosedGates[gs.GateID] = true
			cmds = append(cmds, DeviceCommand{
				DeviceType:  DeviceRegulator,
				DeviceID:    gs.GateID,
				Action:      models.ActionClose,
				Phase:       PhaseWrapup,
				Priority:    PriorityRegulator,
				Reason:      "all fields on segment reached target",
				Description: "close regulator " + gs.GateID,
			})
		}
	}

	if progress.AllFieldsDone(fieldIDs(batch.Fields)) {
		for _, pumpName := range activePumpNames {
			if progress.StoppedPumps[pumpName] {
				continue
			}
			if pumpStillNeededElsewhere != nil && pumpStillNeededElsewhere(pumpName) {
				continue
			}
			progress.StoppedPumps[pumpName] = true
			cmds = append(cmds, DeviceCommand{
				DeviceType:  DevicePump,
				DeviceID:    pumpName,
				Action:      models.ActionStop,
				Phase:       PhaseWrapup,
				Priority:    PriorityPump,
				Reason:      "batch complete, pump no longer needed",
				Description: "stop pump " + pumpName,
			})
		}
	}

	return cmds
}

// Done reports whether every field, every regulator the batch opened, and
// every pump it used have all been closed down.
func (p *BatchProgress) Done(batch models.Batch, gateSettings []models.GateSetting, activePumpNames []string) bool {
	if !p.AllFieldsDone(fieldIDs(batch.Fields)) {
		return false
	}
	for _, gs := range gateSettings {
		if gs.OpenPercent > 0 && !p.ClosedGates[gs.GateID] {
			return false
		}
	}
	for _, name := range activePumpNames {
		if !p.StoppedPumps[name] {
			return false
		}
	}
	return true
}

func fieldIDs(fields []models.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.ID
	}
	return out
}
