package models

import (
	"sync"
	"time"
)

// BatchStatus is one state of the per-batch execution state machine.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchPreparing BatchStatus = "preparing"
	BatchExecuting BatchStatus = "executing"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// legalTransitions encodes the batch state machine's allowed edges. All
// non-terminal states may additionally transition to BatchCancelled, which
// is checked separately in CanTransition.
var legalTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:   {BatchPreparing},
	BatchPreparing: {BatchExecuting, BatchFailed},
	BatchExecuting: {BatchCompleted, BatchFailed},
}

// IsTerminal reports whether a batch status is a terminal state.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

// CanTransition reports whether moving from `from` to `to` is legal under
// the batch state machine.
func CanTransition(from, to BatchStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == BatchCancelled {
		return true
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// LogEntry is one line appended to a BatchExecution's log on every
// transition.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// BatchExecution is the mutable runtime record for one batch of a running
// plan. It mutates only via documented transitions (see Transition).
type BatchExecution struct {
	BatchIndex         int
	Status             BatchStatus
	OriginalStartH     float64
	OriginalEndH       float64
	CurrentStartH      float64
	CurrentEndH        float64
	WaterLevelsAtPrep  map[string]WaterLevelReading
	UpdatedCommands    []Command
	StartedAt          *time.Time
	CompletedAt        *time.Time
	Log                []LogEntry
	Error              string
	RegenerationCount  int
}

// Transition moves a BatchExecution to a new status if legal, appending a
// log entry either way. It returns ErrIllegalTransition (wrapped) when the
// move is not permitted — callers must not retry the same move.
func (b *BatchExecution) Transition(to BatchStatus, now time.Time, reason string) error {
	if !CanTransition(b.Status, to) {
		b.Log = append(b.Log, LogEntry{At: now, Message: "refused illegal transition " + string(b.Status) + "->" + string(to)})
		return &BatchError{BatchIndex: b.BatchIndex, Op: "transition", Err: ErrIllegalTransition}
	}
	b.Log = append(b.Log, LogEntry{At: now, Message: string(b.Status) + "->" + string(to) + ": " + reason})
	b.Status = to
	switch to {
	case BatchExecuting:
		t := now
		b.StartedAt = &t
	case BatchCompleted, BatchFailed, BatchCancelled:
		t := now
		b.CompletedAt = &t
	}
	return nil
}

// GlobalStatus is the coarse run state of a Scheduler's execution.
type GlobalStatus string

const (
	GlobalPending GlobalStatus = "pending"
	GlobalRunning GlobalStatus = "running"
	GlobalDone    GlobalStatus = "done"
	GlobalError   GlobalStatus = "error"
	GlobalStopped GlobalStatus = "stopped"
)

// ExecutionState is the per-running-plan state shared between the
// scheduler's driver task and any external status reader. All access goes
// through the mutex-guarded methods below — readers outside the driver task
// must observe a consistent snapshot.
type ExecutionState struct {
	mu sync.RWMutex

	ExecutionID      string
	Plan             *Plan
	Status           GlobalStatus
	ExecutionStartAt time.Time
	LastWaterUpdate  time.Time
	Batches          map[int]*BatchExecution
}

// NewExecutionState creates execution state for a loaded plan.
func NewExecutionState(executionID string, plan *Plan) *ExecutionState {
	batches := make(map[int]*BatchExecution, len(plan.Batches))
	for _, b := range plan.Batches {
		step := plan.Steps[b.Index-1]
		batches[b.Index] = &BatchExecution{
			BatchIndex:     b.Index,
			Status:         BatchPending,
			OriginalStartH: step.TStartH,
			OriginalEndH:   step.TEndH,
			CurrentStartH:  step.TStartH,
			CurrentEndH:    step.TEndH,
		}
	}
	return &ExecutionState{
		ExecutionID: executionID,
		Plan:        plan,
		Status:      GlobalPending,
		Batches:     batches,
	}
}

// SetStatus sets the global status.
func (e *ExecutionState) SetStatus(s GlobalStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = s
}

// GetStatus returns the global status.
func (e *ExecutionState) GetStatus() GlobalStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Status
}

// Batch returns the BatchExecution for an index, or nil if absent. The
// returned pointer is shared state; callers in the driver task may mutate
// it directly, external readers should treat it as read-only.
func (e *ExecutionState) Batch(index int) *BatchExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Batches[index]
}

// SetLastWaterUpdate records the time of the most recent water-level
// resolution cycle.
func (e *ExecutionState) SetLastWaterUpdate(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LastWaterUpdate = t
}

// Snapshot is an immutable copy of execution state safe to hand to a
// caller outside the driver task (the scheduler control surface's
// GetStatus uses this).
type Snapshot struct {
	ExecutionID      string
	GlobalStatus     GlobalStatus
	CurrentBatch     int
	TotalBatches     int
	ExecutionStartAt time.Time
	LastWaterUpdate  time.Time
	ActiveFields     int
	TotalRegenerations int
	Batches          []BatchExecutionSnapshot
}

// BatchExecutionSnapshot is one batch's state at snapshot time.
type BatchExecutionSnapshot struct {
	BatchIndex    int
	Status        BatchStatus
	CurrentStartH float64
	CurrentEndH   float64
	Error         string
}

// Snapshot builds a consistent read-only copy of the execution state under
// a single lock acquisition.
func (e *ExecutionState) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		ExecutionID:      e.ExecutionID,
		GlobalStatus:     e.Status,
		TotalBatches:     len(e.Batches),
		ExecutionStartAt: e.ExecutionStartAt,
		LastWaterUpdate:  e.LastWaterUpdate,
	}

	for idx := 1; idx <= len(e.Batches); idx++ {
		b := e.Batches[idx]
		if b == nil {
			continue
		}
		snap.TotalRegenerations += b.RegenerationCount
		if b.Status == BatchExecuting || b.Status == BatchPreparing {
			snap.CurrentBatch = idx
			snap.ActiveFields = len(b.WaterLevelsAtPrep)
		}
		snap.Batches = append(snap.Batches, BatchExecutionSnapshot{
			BatchIndex:    b.BatchIndex,
			Status:        b.Status,
			CurrentStartH: b.CurrentStartH,
			CurrentEndH:   b.CurrentEndH,
			Error:         b.Error,
		})
	}
	return snap
}
