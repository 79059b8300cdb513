// Package scheduler implements the batch execution engine: the scheduler
// driver loop, the device dispatcher, and the completion monitor.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paddyworks/irrigate/pkg/models"
)

// DeviceType enumerates the kinds of physical devices the Dispatcher
// addresses.
type DeviceType string

const (
	DevicePump           DeviceType = "pump"
	DeviceRegulator      DeviceType = "regulator"
	DeviceFieldInletGate DeviceType = "field_inlet_gate"
)

// Phase tags where in a batch's lifecycle a command belongs.
type Phase string

const (
	PhasePrepare Phase = "prepare"
	PhaseRunning Phase = "running"
	PhaseWrapup  Phase = "wrapup"
)

// Priority constants used by the Completion Monitor so closures propagate
// bottom-up: field-inlet closes before regulator closes before pump stops.
const (
	PriorityFieldInlet = 1
	PriorityRegulator  = 2
	PriorityPump       = 3
)

// DeviceCommand is one outbound instruction the Dispatcher queues for the
// host-supplied device-control callback.
type DeviceCommand struct {
	DeviceType  DeviceType
	DeviceID    string
	Action      models.CommandAction
	Value       *float64
	Phase       Phase
	Priority    int
	Reason      string
	Description string
}

// DeviceControlFunc is the host-supplied device-control boundary. It
// returns an error on failure; the semantics of the callback itself
// (idempotent, eventual success/failure) are contract-level only.
type DeviceControlFunc func(ctx context.Context, cmd DeviceCommand) error

// BackoffFunc computes the delay before retry attempt n (1-based).
type BackoffFunc func(attempt int) time.Duration

// ConstantBackoff retries after the same fixed delay every time.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(attempt int) time.Duration { return d }
}

// LinearBackoff grows the delay linearly with the attempt number.
func LinearBackoff(d time.Duration) BackoffFunc {
	return func(attempt int) time.Duration { return d * time.Duration(attempt) }
}

// ExponentialBackoff doubles the delay on each attempt.
func ExponentialBackoff(d time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		delay := d
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		return delay
	}
}

// RetryPolicy bounds how many times the Dispatcher retries a failed
// device-control call and how long it waits between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// DefaultRetryPolicy retries twice more with a linear 2s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(2 * time.Second)}
}

// Stats tallies dispatcher throughput for observability.
type Stats struct {
	Sent            int
	Acked           int
	Errors          int
	ErrorsByDevice  map[DeviceType]int
}

// Dispatcher owns the outbound command queue and statistics. It has no
// queue backing store of its own beyond the slice handed to
// DispatchSequence. The scheduler supplies the sequence (full_order or the
// monitor's bottom-up close sequence), and DispatchSequence stable-sorts it
// by command priority before sending.
type Dispatcher struct {
	control DeviceControlFunc
	retry   RetryPolicy

	mu    sync.Mutex
	stats Stats
}

// NewDispatcher builds a Dispatcher around a host-supplied control
// callback and retry policy.
func NewDispatcher(control DeviceControlFunc, retry RetryPolicy) *Dispatcher {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Dispatcher{
		control: control,
		retry:   retry,
		stats:   Stats{ErrorsByDevice: make(map[DeviceType]int)},
	}
}

// Dispatch sends one command through the device-control callback, retrying
// per the configured policy. It never panics or propagates the callback's
// error to its caller as a fatal condition — the failure is recorded on
// the dispatcher's counters and the batch proceeds (by timeout or
// explicit failure) rather than aborting the scheduler.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd DeviceCommand) error {
	d.mu.Lock()
	d.stats.Sent++
	d.mu.Unlock()

	var lastErr error
	attempts := d.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		err := d.control(ctx, cmd)
		if err == nil {
			d.mu.Lock()
			d.stats.Acked++
			d.mu.Unlock()
			return nil
		}
		lastErr = err
		if attempt < attempts && d.retry.Backoff != nil {
			select {
			case <-time.After(d.retry.Backoff(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = attempts
			}
		}
	}

	d.mu.Lock()
	d.stats.Errors++
	d.stats.ErrorsByDevice[cmd.DeviceType]++
	d.mu.Unlock()
	return &models.DispatchError{DeviceID: cmd.DeviceID, Action: string(cmd.Action), Err: lastErr}
}

// DispatchSequence sends a stable-sorted-by-priority sequence of commands
// in order, stopping neither on individual failure (each failure is
// recorded and the sequence continues). It returns every error encountered,
// in command order, for the caller to log.
func (d *Dispatcher) DispatchSequence(ctx context.Context, cmds []DeviceCommand) []error {
	ordered := make([]DeviceCommand, len(cmds))
	copy(ordered, cmds)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var errs []error
	for _, cmd := range ordered {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.Dispatch(ctx, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	byDevice := make(map[DeviceType]int, len(d.stats.ErrorsByDevice))
	for k, v := range d.stats.ErrorsByDevice {
		byDevice[k] = v
	}
	return Stats{Sent: d.stats.Sent, Acked: d.stats.Acked, Errors: d.stats.Errors, ErrorsByDevice: byDevice}
}

// commandsToDeviceCommands projects a step's full_order into the running-
// phase device commands the scheduler dispatches when a batch begins
// executing: pump starts, regulator/gate sets, and field-inlet opens. Pump
// stop commands are deliberately excluded here — those are emitted by the
// Completion Monitor once fields actually reach target, not on the
// originally-planned schedule.
func commandsToDeviceCommands(cmds []models.Command, phase Phase) []DeviceCommand {
	out := make([]DeviceCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.TargetKind == models.TargetPump && c.Action == models.ActionStop {
			continue
		}
		out = append(out, DeviceCommand{
			DeviceType:  targetKindToDeviceType(c.TargetKind),
			DeviceID:    c.TargetID,
			Action:      c.Action,
			Value:       c.Value,
			Phase:       phase,
			Priority:    startupPriorityFor(c.TargetKind),
			Reason:      "planned step command",
			Description: string(c.Action) + " " + c.TargetID,
		})
	}
	return out
}

func targetKindToDeviceType(k models.CommandTargetKind) DeviceType {
	switch k {
	case models.TargetPump:
		return DevicePump
	case models.TargetGate:
		return DeviceRegulator
	case models.TargetField:
		return DeviceFieldInletGate
	default:
		return DeviceRegulator
	}
}

// startupPriorityFor orders the running phase's dispatch: pumps on, then
// regulator sets, then field-inlet opens.
// This is the mirror image of the Completion Monitor's bottom-up close
// ordering (PriorityFieldInlet < PriorityRegulator < PriorityPump), which
// applies only to wrapup-phase closes.
func startupPriorityFor(k models.CommandTargetKind) int {
	switch k {
	case models.TargetPump:
		return 1
	case models.TargetGate:
		return 2
	case models.TargetField:
		return 3
	default:
		return 2
	}
}
