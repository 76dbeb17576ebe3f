package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Frequency bounds.
const (
	MinFrequency Frequency = 30
	MaxFrequency Frequency = 300
)

// Frequency identifies a wavelength (a logical chat channel). It is not a
// network address.
type Frequency int

// Validate reports whether f lies within [MinFrequency, MaxFrequency].
func (f Frequency) Validate() error {
	if f < MinFrequency || f > MaxFrequency {
		return fmt.Errorf("frequency %d out of range (%d ~ %d)", int(f), int(MinFrequency), int(MaxFrequency))
	}
	return nil
}

func (f Frequency) String() string { return strconv.Itoa(int(f)) }

// ParseFrequency parses and validates a decimal frequency.
func ParseFrequency(s string) (Frequency, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: must be a number", s)
	}
	f := Frequency(n)
	if err := f.Validate(); err != nil {
		return 0, err
	}
	return f, nil
}

// FrequencyOf extracts and validates the "frequency" field of env.
func FrequencyOf(env Envelope) (Frequency, error) {
	var n int
	if err := env.Decode("frequency", &n); err != nil {
		return 0, err
	}
	f := Frequency(n)
	if err := f.Validate(); err != nil {
		return 0, err
	}
	return f, nil
}
