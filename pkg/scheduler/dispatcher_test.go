package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddyworks/irrigate/pkg/models"
)

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	var attempts int
	control := func(ctx context.Context, cmd DeviceCommand) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	}
	d := NewDispatcher(control, RetryPolicy{MaxAttempts: 3, Backoff: ConstantBackoff(time.Millisecond)})

	err := d.Dispatch(context.Background(), DeviceCommand{DeviceType: DevicePump, DeviceID: "P1", Action: models.ActionStart})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	stats := d.Stats()
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Acked)
	assert.Equal(t, 0, stats.Errors)
}

func TestDispatcherRecordsErrorAfterExhaustingRetries(t *testing.T) {
	control := func(ctx context.Context, cmd DeviceCommand) error {
		return errors.New("permanent failure")
	}
	d := NewDispatcher(control, RetryPolicy{MaxAttempts: 2, Backoff: ConstantBackoff(time.Millisecond)})

	err := d.Dispatch(context.Background(), DeviceCommand{DeviceType: DeviceRegulator, DeviceID: "S1-G1", Action: models.ActionSet})
	require.Error(t, err)
	var dispatchErr *models.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "S1-G1", dispatchErr.DeviceID)

	stats := d.Stats()
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.ErrorsByDevice[DeviceRegulator])
}

func TestDispatchSequenceOrdersByPriority(t *testing.T) {
	var order []string
	control := func(ctx context.Context, cmd DeviceCommand) error {
		order = append(order, cmd.DeviceID)
		return nil
	}
	d := NewDispatcher(control, RetryPolicy{MaxAttempts: 1})

	cmds := []DeviceCommand{
		{DeviceID: "pump", Priority: PriorityPump},
		{DeviceID: "field", Priority: PriorityFieldInlet},
		{DeviceID: "regulator", Priority: PriorityRegulator},
	}
	errs := d.DispatchSequence(context.Background(), cmds)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"field", "regulator", "pump"}, order)
}

func TestCommandsToDeviceCommandsExcludesPumpStop(t *testing.T) {
	openPercent := 100.0
	cmds := []models.Command{
		{Action: models.ActionStart, TargetKind: models.TargetPump, TargetID: "P1"},
		{Action: models.ActionSet, TargetKind: models.TargetGate, TargetID: "S1-G1", Value: &openPercent},
		{Action: models.ActionOpen, TargetKind: models.TargetField, TargetID: "F1"},
		{Action: models.ActionStop, TargetKind: models.TargetPump, TargetID: "P1"},
	}
	out := commandsToDeviceCommands(cmds, PhaseRunning)
	require.Len(t, out, 3)
	for _, c := range out {
		assert.NotEqual(t, models.ActionStop, c.Action)
	}
}
