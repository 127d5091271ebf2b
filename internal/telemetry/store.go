package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/voltson-proxy/internal/infrastructure/database"
)

// Sample is one stored energy reading.
type Sample struct {
	DeviceID   string    `json:"device_id"`
	Watts      float64   `json:"watts"`
	Volts      float64   `json:"volts"`
	PowerRaw   string    `json:"power_raw"`
	VoltageRaw string    `json:"voltage_raw"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Transition is one stored relay state change.
type Transition struct {
	DeviceID   string    `json:"device_id"`
	Relay      string    `json:"relay"`
	ObservedAt time.Time `json:"observed_at"`
}

// Store persists telemetry history in SQLite.
type Store struct {
	db *database.DB
}

// NewStore creates a store on an opened, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// SaveSample inserts one energy sample.
func (s *Store) SaveSample(ctx context.Context, sample Sample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO energy_samples (device_id, watts, volts, power_raw, voltage_raw, sampled_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sample.DeviceID,
		sample.Watts,
		sample.Volts,
		sample.PowerRaw,
		sample.VoltageRaw,
		sample.SampledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving energy sample: %w", err)
	}
	return nil
}

// SaveTransition inserts one relay transition.
func (s *Store) SaveTransition(ctx context.Context, tr Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_transitions (device_id, relay, observed_at)
		VALUES (?, ?, ?)`,
		tr.DeviceID,
		tr.Relay,
		tr.ObservedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving relay transition: %w", err)
	}
	return nil
}

// RecentSamples returns the newest limit samples for a device, newest
// first.
func (s *Store) RecentSamples(ctx context.Context, deviceID string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, watts, volts, power_raw, voltage_raw, sampled_at
		FROM energy_samples
		WHERE device_id = ?
		ORDER BY sampled_at DESC
		LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying energy samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sample Sample
		var sampledAt string
		if err := rows.Scan(
			&sample.DeviceID,
			&sample.Watts,
			&sample.Volts,
			&sample.PowerRaw,
			&sample.VoltageRaw,
			&sampledAt,
		); err != nil {
			return nil, fmt.Errorf("scanning energy sample: %w", err)
		}
		sample.SampledAt, _ = time.Parse(time.RFC3339Nano, sampledAt) //nolint:errcheck // Format is controlled
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating energy samples: %w", err)
	}
	return samples, nil
}

// RecentTransitions returns the newest limit relay transitions for a
// device, newest first.
func (s *Store) RecentTransitions(ctx context.Context, deviceID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, relay, observed_at
		FROM relay_transitions
		WHERE device_id = ?
		ORDER BY observed_at DESC
		LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying relay transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var tr Transition
		var observedAt string
		if err := rows.Scan(&tr.DeviceID, &tr.Relay, &observedAt); err != nil {
			return nil, fmt.Errorf("scanning relay transition: %w", err)
		}
		tr.ObservedAt, _ = time.Parse(time.RFC3339Nano, observedAt) //nolint:errcheck // Format is controlled
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relay transitions: %w", err)
	}
	return transitions, nil
}
