package outlet

// Event names a State notification.
type Event string

// Events raised by a State.
const (
	// EventRelayChanged fires whenever the relay is set by any path:
	// a validated device message or the injection API.
	EventRelayChanged Event = "relay_changed"

	// EventPowerUpdated fires whenever energy telemetry is refreshed by a
	// /runtimeInfo message.
	EventPowerUpdated Event = "power_updated"
)

// subscriber is one registered observer. Subscribers are kept in
// registration order so delivery order is deterministic per State.
type subscriber struct {
	id int
	fn func(Snapshot)
}

// Subscribe registers an observer for an event. The callback receives a
// snapshot taken at notification time and runs synchronously on the
// goroutine that triggered the event, after the State's lock is released.
// Callbacks must not block for long.
//
// The returned cancel function removes the subscription and is idempotent.
func (s *State) Subscribe(event Event, fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subSeq++
	id := s.subSeq
	s.subs[event] = append(s.subs[event], subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[event]
		for i, sub := range list {
			if sub.id == id {
				s.subs[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// WatchPower opens a one-shot subscription to the next power update.
//
// The channel is buffered, receives at most one snapshot, and never
// delivers duplicates; a second /runtimeInfo after delivery is ignored.
// Callers must register the watch before injecting /getRuntime, select on
// the channel together with their context so a device that never answers
// cannot block them forever, and call cancel when done.
func (s *State) WatchPower() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	cancel := s.Subscribe(EventPowerUpdated, func(snap Snapshot) {
		select {
		case ch <- snap:
		default: // already delivered once
		}
	})
	return ch, cancel
}

// notify delivers a snapshot to every observer of an event, in
// registration order. Must be called without holding s.mu; the observer
// list is copied under the lock so callbacks may subscribe or cancel.
func (s *State) notify(event Event, snap Snapshot) {
	s.mu.Lock()
	subs := make([]subscriber, len(s.subs[event]))
	copy(subs, s.subs[event])
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
}
