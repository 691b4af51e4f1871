package pipeline

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/metrics"
)

// Poller lifecycle states. Degraded is active with the last poll failed.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateActive   = "active"
	StateDegraded = "degraded"
)

const (
	EventStart       = "start"
	EventStarted     = "started"
	EventStartFailed = "start_failed"
	EventPollFailed  = "poll_failed"
	EventPollOK      = "poll_ok"
	EventStop        = "stop"
)

var pollerStates = []string{StateStopped, StateStarting, StateActive, StateDegraded}

func newLifecycle(logger log.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateStopped,
		fsm.Events{
			{Name: EventStart, Src: []string{StateStopped}, Dst: StateStarting},
			{Name: EventStarted, Src: []string{StateStarting}, Dst: StateActive},
			{Name: EventStartFailed, Src: []string{StateStarting}, Dst: StateStopped},
			{Name: EventPollFailed, Src: []string{StateActive, StateDegraded}, Dst: StateDegraded},
			{Name: EventPollOK, Src: []string{StateActive, StateDegraded}, Dst: StateActive},
			{Name: EventStop, Src: []string{StateStarting, StateActive, StateDegraded}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.SetPollerState(e.Dst, pollerStates...)
				logger.Info("poller state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
}

// fire triggers event. Self-transitions (degraded to degraded) are not errors.
func fire(ctx context.Context, f *fsm.FSM, event string) error {
	err := f.Event(ctx, event)
	var noop fsm.NoTransitionError
	if err == nil || errors.As(err, &noop) {
		return nil
	}
	return err
}
