package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/voltson-proxy/internal/infrastructure/influxdb"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/mqtt"
	"github.com/nerrad567/voltson-proxy/internal/outlet"
)

const (
	// queueSize buffers recorder events between the session goroutines
	// and the worker. Overflow drops the event, never blocks bridging.
	queueSize = 256

	// writeTimeout bounds each SQLite write.
	writeTimeout = 5 * time.Second
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder observes device states and persists what they report.
//
// It attaches to each State the registry creates (wire it with
// Registry.SetOnCreate(recorder.Attach)) and forwards relay transitions
// and energy samples to the configured sinks. SQLite is required; the
// InfluxDB and MQTT sinks are optional and nil when disabled.
//
// Events are handed to a single worker goroutine through a bounded
// queue, so a slow sink can never stall a session's read loop.
type Recorder struct {
	store  *Store
	influx *influxdb.Client
	mqtt   *mqtt.Client
	logger Logger

	events chan recorderEvent

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type recorderEvent struct {
	event outlet.Event
	snap  outlet.Snapshot
	at    time.Time
}

// NewRecorder creates a recorder and starts its worker. influx and mq may
// be nil.
func NewRecorder(store *Store, influx *influxdb.Client, mq *mqtt.Client, logger Logger) *Recorder {
	r := &Recorder{
		store:  store,
		influx: influx,
		mqtt:   mq,
		logger: logger,
		events: make(chan recorderEvent, queueSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Attach subscribes the recorder to one device state. Registered as the
// registry's on-create hook, so every device is covered from its first
// login.
func (r *Recorder) Attach(state *outlet.State) {
	state.Subscribe(outlet.EventRelayChanged, func(snap outlet.Snapshot) {
		r.enqueue(outlet.EventRelayChanged, snap)
	})
	state.Subscribe(outlet.EventPowerUpdated, func(snap outlet.Snapshot) {
		r.enqueue(outlet.EventPowerUpdated, snap)
	})
}

// Close stops the worker after draining queued events.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) enqueue(event outlet.Event, snap outlet.Snapshot) {
	select {
	case r.events <- recorderEvent{event: event, snap: snap, at: time.Now()}:
	default:
		r.logger.Warn("telemetry queue full, dropping event",
			"device_id", snap.ID,
			"event", string(event),
		)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.events:
			r.record(ev)
		case <-r.done:
			// Drain whatever is already queued.
			for {
				select {
				case ev := <-r.events:
					r.record(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) record(ev recorderEvent) {
	switch ev.event {
	case outlet.EventRelayChanged:
		r.recordTransition(ev)
	case outlet.EventPowerUpdated:
		r.recordSample(ev)
	}
}

func (r *Recorder) recordTransition(ev recorderEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tr := Transition{
		DeviceID:   ev.snap.ID,
		Relay:      string(ev.snap.Relay),
		ObservedAt: ev.at,
	}
	if err := r.store.SaveTransition(ctx, tr); err != nil {
		r.logger.Error("recording relay transition failed",
			"device_id", tr.DeviceID,
			"error", err,
		)
	}

	if r.influx != nil {
		r.influx.WriteRelayTransition(tr.DeviceID, tr.Relay, tr.ObservedAt)
	}
	if r.mqtt != nil {
		r.publishState(ev.snap)
	}
}

func (r *Recorder) recordSample(ev recorderEvent) {
	reading, err := DecodeEnergy(ev.snap.Energy)
	if err != nil {
		// The raw pair passed schema validation but not the decoder;
		// worth a warning since it means a new firmware encoding.
		r.logger.Warn("undecodable energy sample",
			"device_id", ev.snap.ID,
			"power", ev.snap.Energy.Power,
			"voltage", ev.snap.Energy.Voltage,
			"error", err,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	sample := Sample{
		DeviceID:   ev.snap.ID,
		Watts:      reading.Watts,
		Volts:      reading.Volts,
		PowerRaw:   ev.snap.Energy.Power,
		VoltageRaw: ev.snap.Energy.Voltage,
		SampledAt:  ev.at,
	}
	if err := r.store.SaveSample(ctx, sample); err != nil {
		r.logger.Error("recording energy sample failed",
			"device_id", sample.DeviceID,
			"error", err,
		)
	}

	if r.influx != nil {
		r.influx.WriteEnergySample(sample.DeviceID, sample.Watts, sample.Volts, sample.SampledAt)
	}
	if r.mqtt != nil {
		r.publishEnergy(sample)
	}
}

func (r *Recorder) publishState(snap outlet.Snapshot) {
	payload, err := json.Marshal(map[string]any{
		"device_id": snap.ID,
		"relay":     snap.Relay,
		"online":    snap.Bound,
		"seen_at":   snap.SeenAt,
	})
	if err != nil {
		return
	}
	topic := mqtt.Topics{}.OutletState(snap.ID)
	if err := r.mqtt.PublishRetained(topic, payload); err != nil {
		r.logger.Warn("publishing outlet state failed",
			"device_id", snap.ID,
			"error", err,
		)
	}
}

func (r *Recorder) publishEnergy(sample Sample) {
	payload, err := json.Marshal(sample)
	if err != nil {
		return
	}
	topic := mqtt.Topics{}.OutletEnergy(sample.DeviceID)
	if err := r.mqtt.PublishEvent(topic, payload); err != nil {
		r.logger.Warn("publishing energy sample failed",
			"device_id", sample.DeviceID,
			"error", err,
		)
	}
}
