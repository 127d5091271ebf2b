package outlet

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeDeliveryOrder(t *testing.T) {
	s := newTestState(t)

	var order []int
	s.Subscribe(EventRelayChanged, func(Snapshot) { order = append(order, 1) })
	s.Subscribe(EventRelayChanged, func(Snapshot) { order = append(order, 2) })
	s.Subscribe(EventRelayChanged, func(Snapshot) { order = append(order, 3) })

	s.HandleDeviceMessage([]byte(`{"uri":"/state","relay":"open"}`)) //nolint:errcheck

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestSubscribeCancel(t *testing.T) {
	s := newTestState(t)

	fired := 0
	cancel := s.Subscribe(EventRelayChanged, func(Snapshot) { fired++ })

	s.HandleDeviceMessage([]byte(`{"uri":"/state","relay":"open"}`)) //nolint:errcheck
	cancel()
	cancel() // idempotent
	s.HandleDeviceMessage([]byte(`{"uri":"/state","relay":"break"}`)) //nolint:errcheck

	if fired != 1 {
		t.Errorf("cancelled observer fired %d times, want 1", fired)
	}
}

func TestWatchPowerOneShot(t *testing.T) {
	s := newTestState(t)

	watch, cancel := s.WatchPower()
	defer cancel()

	runtime := `{"uri":"/runtimeInfo","relay":"open","meastate":"1","power":"A0:10","voltage":"05:01","current":"00:00"}`
	s.HandleDeviceMessage([]byte(runtime)) //nolint:errcheck
	s.HandleDeviceMessage([]byte(runtime)) //nolint:errcheck

	select {
	case snap := <-watch:
		if snap.Energy.Power != "A0:10" {
			t.Errorf("watched power = %q, want A0:10", snap.Energy.Power)
		}
	default:
		t.Fatal("no snapshot delivered")
	}

	// The second /runtimeInfo must not queue a duplicate.
	select {
	case <-watch:
		t.Error("one-shot watch delivered twice")
	default:
	}
}

func TestWatchPowerWithContextTimeout(t *testing.T) {
	s := newTestState(t)

	watch, cancel := s.WatchPower()
	defer cancel()

	// The device never answers; the caller's context bounds the wait.
	ctx, ctxCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer ctxCancel()

	select {
	case <-watch:
		t.Fatal("unexpected snapshot")
	case <-ctx.Done():
		// expected
	}
}
