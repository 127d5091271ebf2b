package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/voltson-proxy/internal/outlet"
)

// energyDivisor scales a decoded pair into watts or volts. Derived from
// observed readings against a reference meter; the firmware has no
// published encoding.
const energyDivisor = 8192

// DecodePair converts one colon-delimited hexadecimal pair ("A0:10")
// into its decoded value: the sum of both parts divided by 8192.
func DecodePair(raw string) (float64, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadEncoding, raw)
	}

	var sum uint64
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadEncoding, raw)
		}
		sum += v
	}
	return float64(sum) / energyDivisor, nil
}

// Reading is a decoded energy sample.
type Reading struct {
	Watts float64 `json:"watts"`
	Volts float64 `json:"volts"`
}

// DecodeEnergy decodes both fields of a raw Energy. An error in either
// field fails the whole reading.
func DecodeEnergy(e outlet.Energy) (Reading, error) {
	watts, err := DecodePair(e.Power)
	if err != nil {
		return Reading{}, fmt.Errorf("decoding power: %w", err)
	}
	volts, err := DecodePair(e.Voltage)
	if err != nil {
		return Reading{}, fmt.Errorf("decoding voltage: %w", err)
	}
	return Reading{Watts: watts, Volts: volts}, nil
}
