package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/paddyworks/irrigate/internal/logger"
	"github.com/paddyworks/irrigate/pkg/models"
	"github.com/paddyworks/irrigate/pkg/regenerator"
	"github.com/paddyworks/irrigate/pkg/waterlevel"
)

// Config bounds the Batch Scheduler's timing behavior.
type Config struct {
	TickInterval       time.Duration
	PreBufferMinutes   float64
	RegenConfig        regenerator.Config
	MonitorConfig      MonitorConfig
}

// DefaultConfig returns the standard timing: a 30s tick cadence and a
// 5-minute pre-execution buffer.
func DefaultConfig() Config {
	return Config{
		TickInterval:     30 * time.Second,
		PreBufferMinutes: 5,
		RegenConfig:      regenerator.DefaultConfig(),
		MonitorConfig:    DefaultMonitorConfig(),
	}
}

// Scheduler runs one loaded plan: a single cooperative
// driver task advancing every batch of one loaded plan through its state
// machine. It owns its Store, Source, Dispatcher, and
// Monitor by composition and
// lives for one StartExecution through its terminating transition.
type Scheduler struct {
	farmCfg    *models.FarmConfig
	store      *waterlevel.Store
	source     *waterlevel.Source
	dispatcher *Dispatcher
	monitor    *Monitor
	cfg        Config
	log        *logger.Logger

	gateByID map[string]*models.Gate
	segByID  map[string]*models.Segment

	mu       sync.Mutex
	state    *models.ExecutionState
	progress map[int]*BatchProgress
	running  bool
	cancel   context.CancelFunc
	cronJob  *cron.Cron
}

// New builds a Scheduler around its collaborators. Each is a plain
// interface/struct the caller constructs and can fake in tests.
func New(farmCfg *models.FarmConfig, store *waterlevel.Store, source *waterlevel.Source, dispatcher *Dispatcher, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		farmCfg:    farmCfg,
		store:      store,
		source:     source,
		dispatcher: dispatcher,
		monitor:    NewMonitor(store, cfg.MonitorConfig),
		cfg:        cfg,
		log:        logger.Default().With("component", "scheduler"),
		gateByID:   farmCfg.GateByID(),
		segByID:    farmCfg.SegmentByID(),
		progress:   make(map[int]*BatchProgress),
	}
}

// StartExecution loads a plan and begins the driver loop. It requires a
// plan with at least one batch.
func (s *Scheduler) StartExecution(ctx context.Context, plan *models.Plan) (string, error) {
	if plan == nil || len(plan.Batches) == 0 {
		return "", &models.PlanError{PlanID: "", Op: "start_execution", Err: models.ErrPlanNotFound}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return "", models.ErrAlreadyRunning
	}

	executionID := uuid.NewString()
	s.state = models.NewExecutionState(executionID, plan)
	s.state.ExecutionStartAt = time.Now()
	s.state.SetStatus(models.GlobalRunning)
	s.progress = make(map[int]*BatchProgress)
	for _, b := range plan.Batches {
		s.progress[b.Index] = NewBatchProgress()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	c := cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	if _, err := c.AddFunc(spec, func() {
		if err := s.Tick(loopCtx); err != nil {
			s.log.Error("tick failed", "error", err)
		}
	}); err != nil {
		cancel()
		return "", fmt.Errorf("schedule tick cadence: %w", err)
	}
	c.Start()

	s.mu.Lock()
	s.cronJob = c
	s.mu.Unlock()

	go func() {
		<-loopCtx.Done()
		c.Stop()
	}()

	s.log.Info("execution started", "execution_id", executionID, "batches", len(plan.Batches))
	return executionID, nil
}

// StopExecution requests cancellation. Any
// non-terminal batch transitions to cancelled at the next tick; no new
// commands are dispatched for it.
func (s *Scheduler) StopExecution() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return models.ErrNotRunning
	}
	s.cancel()
	s.running = false
	if s.state != nil {
		s.state.SetStatus(models.GlobalStopped)
	}
	return nil
}

// GetStatus returns a consistent snapshot of the running (or most recently
// run) execution.
func (s *Scheduler) GetStatus() (models.Snapshot, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == nil {
		return models.Snapshot{}, models.ErrPlanNotFound
	}
	return state.Snapshot(), nil
}

// UpdateWaterLevels forces a water-level resolution cycle, independent of
// the tick cadence. When fieldIDs is non-empty, only those fields are
// resolved; otherwise the whole farm is.
func (s *Scheduler) UpdateWaterLevels(ctx context.Context, fieldIDs ...string) (waterlevel.ResolveResult, error) {
	cfg := s.farmCfg
	if len(fieldIDs) > 0 {
		want := make(map[string]bool, len(fieldIDs))
		for _, id := range fieldIDs {
			want[id] = true
		}
		subset := *s.farmCfg
		subset.Fields = nil
		for _, f := range s.farmCfg.Fields {
			if want[f.ID] {
				subset.Fields = append(subset.Fields, f)
			}
		}
		cfg = &subset
	}

	result, err := s.source.Resolve(ctx, cfg)
	if err == nil {
		s.mu.Lock()
		if s.state != nil {
			s.state.SetLastWaterUpdate(time.Now())
		}
		s.mu.Unlock()
	}
	return result, err
}

// ManualRegenerateBatch triggers one batch regeneration outside the normal
// cadence. customReadings, when non-nil, override the store's latest
// reading for the listed fields (and are registered as monitor overrides
// so completion checks reflect them immediately). customStandards, when
// non-nil, replaces the configured adjustment/validation bounds for this
// one invocation.
func (s *Scheduler) ManualRegenerateBatch(batchIndex int, customReadings map[string]models.WaterLevelReading, customStandards *regenerator.Config) (*models.BatchRegenerationResult, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == nil {
		return nil, models.ErrPlanNotFound
	}
	be := state.Batch(batchIndex)
	if be == nil {
		return nil, &models.BatchError{BatchIndex: batchIndex, Op: "manual_regenerate", Err: models.ErrBatchNotFound}
	}

	batch, step, err := s.batchAndStep(state.Plan, batchIndex)
	if err != nil {
		return nil, err
	}

	readings := s.readingsFor(batch, customReadings)
	for fieldID, r := range customReadings {
		s.monitor.SetOverride(fieldID, r)
		readings[fieldID] = r
	}

	regenCfg := s.cfg.RegenConfig
	if customStandards != nil {
		regenCfg = *customStandards
	}

	result := regenerator.Regenerate(batchIndex, batch, step, readings, regenCfg)
	be.RegenerationCount++
	if result.Success {
		be.UpdatedCommands = result.RegeneratedCommands
	}
	return result, nil
}

// Tick runs one iteration of the driver loop: prepare due batches, execute
// prepared batches, monitor executing batches, and observe cancellation
//. It is exported so tests can step the
// scheduler deterministically instead of waiting on wall-clock cron
// firings.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	running := s.running
	s.mu.Unlock()
	if state == nil {
		return models.ErrPlanNotFound
	}

	if !running || ctx.Err() != nil {
		s.cancelNonTerminal(state)
		return nil
	}

	elapsedH := time.Since(state.ExecutionStartAt).Hours()
	plan := state.Plan

	for idx := 1; idx <= len(plan.Batches); idx++ {
		if ctx.Err() != nil {
			s.cancelNonTerminal(state)
			return nil
		}
		be := state.Batch(idx)
		if be == nil || be.Status.IsTerminal() {
			continue
		}

		switch be.Status {
		case models.BatchPending:
			s.maybePrepare(ctx, state, idx, be, elapsedH)
		case models.BatchPreparing:
			s.maybeExecute(ctx, state, idx, be, elapsedH)
		case models.BatchExecuting:
			s.monitorExecuting(ctx, state, idx, be, elapsedH)
		}
	}

	if s.allNonTerminalFailed(state) {
		state.SetStatus(models.GlobalError)
	} else if s.allTerminal(state) {
		state.SetStatus(models.GlobalDone)
	}
	return nil
}

// maybePrepare: a pending batch whose original
// start is within the pre-execution buffer transitions to preparing,
// fetches fresh readings for its fields, and regenerates its commands.
func (s *Scheduler) maybePrepare(ctx context.Context, state *models.ExecutionState, idx int, be *models.BatchExecution, elapsedH float64) {
	preBufferH := s.cfg.PreBufferMinutes / 60
	if be.OriginalStartH-elapsedH > preBufferH {
		return
	}
	// Ordering guarantee: batch N doesn't enter preparing until batch N-1
	// has entered executing or is terminal.
	if idx > 1 {
		prev := state.Batch(idx - 1)
		if prev != nil && prev.Status != models.BatchExecuting && !prev.Status.IsTerminal() {
			return
		}
	}

	if err := be.Transition(models.BatchPreparing, time.Now(), "within pre-execution buffer"); err != nil {
		s.log.Warn("illegal transition refused", "batch", idx, "error", err)
		return
	}

	batch, step, err := s.batchAndStep(state.Plan, idx)
	if err != nil {
		s.failBatch(be, err)
		return
	}

	result, err := s.resolveBatchReadings(ctx, batch)
	if err != nil {
		s.log.Warn("water-level resolution failed during prepare", "batch", idx, "error", err)
	}
	be.WaterLevelsAtPrep = result
	state.SetLastWaterUpdate(time.Now())

	regen := regenerator.Regenerate(idx, batch, step, result, s.cfg.RegenConfig)
	be.RegenerationCount++
	if regen.Success {
		be.UpdatedCommands = regen.RegeneratedCommands
		be.CurrentStartH = step.TStartH
		be.CurrentEndH = step.TStartH + step.Duration() + regen.ExecutionTimeAdjustmentS/3600
	} else {
		s.log.Warn("regeneration rejected, falling back to original commands", "batch", idx, "reason", regen.Error)
	}
}

// maybeExecute: a prepared batch whose original
// start has arrived transitions to executing and dispatches its running-
// phase commands in full_order.
func (s *Scheduler) maybeExecute(ctx context.Context, state *models.ExecutionState, idx int, be *models.BatchExecution, elapsedH float64) {
	if be.OriginalStartH > elapsedH {
		return
	}

	if err := be.Transition(models.BatchExecuting, time.Now(), "original start reached"); err != nil {
		s.log.Warn("illegal transition refused", "batch", idx, "error", err)
		return
	}

	cmds := be.UpdatedCommands
	if len(cmds) == 0 {
		_, step, err := s.batchAndStep(state.Plan, idx)
		if err != nil {
			s.failBatch(be, err)
			return
		}
		cmds = step.Commands
	}

	running := commandsToDeviceCommands(cmds, PhaseRunning)
	errs := s.dispatcher.DispatchSequence(ctx, running)
	for _, err := range errs {
		s.log.Warn("dispatch error during batch startup", "batch", idx, "error", err)
	}
}

// monitorExecuting polls the Completion Monitor for
// an executing batch, dispatch any newly-due close commands, and mark the
// batch completed once every device it controls has closed down or the
// time-based fallback fires.
func (s *Scheduler) monitorExecuting(ctx context.Context, state *models.ExecutionState, idx int, be *models.BatchExecution, elapsedH float64) {
	batch, step, err := s.batchAndStep(state.Plan, idx)
	if err != nil {
		s.failBatch(be, err)
		return
	}

	progress := s.progressFor(idx)
	pumpStillNeeded := s.pumpStillNeededElsewhereFunc(state, idx)

	cmds := s.monitor.Check(batch, step.Sequence.GatesSet, step.Sequence.PumpsOn, pumpStillNeeded, progress)
	if len(cmds) > 0 {
		errs := s.dispatcher.DispatchSequence(ctx, cmds)
		for _, err := range errs {
			s.log.Warn("dispatch error during batch wrapdown", "batch", idx, "error", err)
		}
	}

	timedOut := elapsedH >= be.OriginalStartH+(be.OriginalEndH-be.OriginalStartH)
	done := progress.Done(batch, step.Sequence.GatesSet, step.Sequence.PumpsOn)

	if done || timedOut {
		if timedOut && !done {
			s.log.Warn("batch completion fallback by time-out, closing remaining devices", "batch", idx)
			s.forceCloseRemaining(ctx, batch, step, progress)
		}
		if err := be.Transition(models.BatchCompleted, time.Now(), "all fields satisfied or timed out"); err != nil {
			s.log.Warn("illegal transition refused", "batch", idx, "error", err)
		}
	}
}

// forceCloseRemaining dispatches close commands for every device the
// Completion Monitor has not yet marked done, used only by the time-based
// completion fallback so a batch's devices are never left physically open
// past its scheduled end.
func (s *Scheduler) forceCloseRemaining(ctx context.Context, batch models.Batch, step models.Step, progress *BatchProgress) {
	var cmds []DeviceCommand
	for _, f := range batch.Fields {
		if progress.DoneFields[f.ID] {
			continue
		}
		progress.DoneFields[f.ID] = true
		cmds = append(cmds, DeviceCommand{DeviceType: DeviceFieldInletGate, DeviceID: f.InletGateID, Action: models.ActionClose, Phase: PhaseWrapup, Priority: PriorityFieldInlet, Reason: "batch timed out"})
	}
	for _, gs := range step.Sequence.GatesSet {
		if gs.OpenPercent <= 0 || progress.ClosedGates[gs.GateID] {
			continue
		}
		progress.ClosedGates[gs.GateID] = true
		cmds = append(cmds, DeviceCommand{DeviceType: DeviceRegulator, DeviceID: gs.GateID, Action: models.ActionClose, Phase: PhaseWrapup, Priority: PriorityRegulator, Reason: "batch timed out"})
	}
	for _, name := range step.Sequence.PumpsOn {
		if progress.StoppedPumps[name] {
			continue
		}
		progress.StoppedPumps[name] = true
		cmds = append(cmds, DeviceCommand{DeviceType: DevicePump, DeviceID: name, Action: models.ActionStop, Phase: PhaseWrapup, Priority: PriorityPump, Reason: "batch timed out"})
	}
	if errs := s.dispatcher.DispatchSequence(ctx, cmds); len(errs) > 0 {
		for _, err := range errs {
			s.log.Warn("dispatch error during forced close", "error", err)
		}
	}
}

// pumpStillNeededElsewhereFunc reports, for a pump used by batch idx,
// whether any other non-terminal batch's plan step still lists it in
// pumps-on — in which case the Completion Monitor must not stop it yet.
func (s *Scheduler) pumpStillNeededElsewhereFunc(state *models.ExecutionState, idx int) func(string) bool {
	return func(pumpName string) bool {
		for otherIdx := 1; otherIdx <= len(state.Plan.Batches); otherIdx++ {
			if otherIdx == idx {
				continue
			}
			other := state.Batch(otherIdx)
			if other == nil || other.Status.IsTerminal() {
				continue
			}
			if otherIdx-1 < len(state.Plan.Steps) {
				for _, name := range state.Plan.Steps[otherIdx-1].Sequence.PumpsOn {
					if name == pumpName {
						return true
					}
				}
			}
		}
		return false
	}
}

func (s *Scheduler) progressFor(idx int) *BatchProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[idx]
	if !ok {
		p = NewBatchProgress()
		s.progress[idx] = p
	}
	return p
}

// resolveBatchReadings runs the water-level fallback chain for the whole
// farm and returns the subset relevant
// to one batch's fields.
func (s *Scheduler) resolveBatchReadings(ctx context.Context, batch models.Batch) (map[string]models.WaterLevelReading, error) {
	result, err := s.source.Resolve(ctx, s.farmCfg)
	out := make(map[string]models.WaterLevelReading, len(batch.Fields))
	for _, f := range batch.Fields {
		if r, ok := result.Readings[f.ID]; ok {
			out[f.ID] = r
		}
	}
	return out, err
}

func (s *Scheduler) readingsFor(batch models.Batch, overrides map[string]models.WaterLevelReading) map[string]models.WaterLevelReading {
	out := make(map[string]models.WaterLevelReading, len(batch.Fields))
	for _, f := range batch.Fields {
		if r, ok := overrides[f.ID]; ok {
			out[f.ID] = r
			continue
		}
		if r, ok := s.store.Latest(f.ID); ok {
			out[f.ID] = r
		}
	}
	return out
}

func (s *Scheduler) batchAndStep(plan *models.Plan, idx int) (models.Batch, models.Step, error) {
	for _, b := range plan.Batches {
		if b.Index == idx {
			if idx-1 >= len(plan.Steps) {
				return models.Batch{}, models.Step{}, &models.BatchError{BatchIndex: idx, Op: "lookup", Err: models.ErrBatchNotFound}
			}
			return b, plan.Steps[idx-1], nil
		}
	}
	return models.Batch{}, models.Step{}, &models.BatchError{BatchIndex: idx, Op: "lookup", Err: models.ErrBatchNotFound}
}

func (s *Scheduler) failBatch(be *models.BatchExecution, err error) {
	be.Error = err.Error()
	if transErr := be.Transition(models.BatchFailed, time.Now(), err.Error()); transErr != nil {
		s.log.Warn("illegal transition refused while failing batch", "batch", be.BatchIndex, "error", transErr)
	}
}

func (s *Scheduler) cancelNonTerminal(state *models.ExecutionState) {
	for idx := 1; idx <= len(state.Plan.Batches); idx++ {
		be := state.Batch(idx)
		if be == nil || be.Status.IsTerminal() {
			continue
		}
		_ = be.Transition(models.BatchCancelled, time.Now(), "execution stopped")
	}
	state.SetStatus(models.GlobalStopped)
}

// allNonTerminalFailed reports whether every batch has reached a terminal
// state and none of them completed successfully — the global status
// becomes error only when every batch failed.
func (s *Scheduler) allNonTerminalFailed(state *models.ExecutionState) bool {
	if len(state.Plan.Batches) == 0 {
		return false
	}
	sawFailed := false
	for idx := 1; idx <= len(state.Plan.Batches); idx++ {
		be := state.Batch(idx)
		if be == nil || !be.Status.IsTerminal() {
			return false
		}
		switch be.Status {
		case models.BatchFailed:
			sawFailed = true
		case models.BatchCompleted:
			return false
		}
	}
	return sawFailed
}

func (s *Scheduler) allTerminal(state *models.ExecutionState) bool {
	for idx := 1; idx <= len(state.Plan.Batches); idx++ {
		be := state.Batch(idx)
		if be == nil || !be.Status.IsTerminal() {
			return false
		}
	}
	return true
}
