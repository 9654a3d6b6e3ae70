// Package om holds the Observations and Measurements model produced by
// extraction: fields, phenomena, sampling features, observations, procedure
// trees and the spatiotemporal bounds that aggregate them.
package om

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnsupportedKind is returned when an observation kind name is unknown.
var ErrUnsupportedKind = eris.New("om: unsupported observation kind")

// Kind is the shape of the records carried by an observation.
type Kind int

const (
	// Timeseries records are indexed by time at a fixed position.
	Timeseries Kind = iota
	// Trajectory records are indexed by time and carry their own position.
	Trajectory
	// Profile records are indexed by a numeric vertical coordinate.
	Profile
)

// String returns the kind name as it appears in mapping parameters.
func (k Kind) String() string {
	switch k {
	case Timeseries:
		return "Timeserie"
	case Trajectory:
		return "Trajectory"
	case Profile:
		return "Profile"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name case-insensitively. "Timeserie" and
// "Timeseries" are both accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "timeserie", "timeseries":
		return Timeseries, nil
	case "trajectory":
		return Trajectory, nil
	case "profile":
		return Profile, nil
	default:
		return 0, eris.Wrapf(ErrUnsupportedKind, "%q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
