package index

import (
	"math"
	"time"
)

// Signature is a rounded fingerprint of an activity: start minute, duration
// in minutes and start coordinates at 4 decimal places (~11 m). It is a plain
// comparable value and is used directly as a map key.
type Signature struct {
	StartMinute    int64   `json:"start_min" yaml:"start_min"`
	DurationMinute int64   `json:"dur_min" yaml:"dur_min"`
	Lat4           float64 `json:"lat4" yaml:"lat4"`
	Lon4           float64 `json:"lon4" yaml:"lon4"`
}

// FromTrack builds the signature of a locally recorded track.
func FromTrack(start, end time.Time, lat, lon float64) Signature {
	return build(start, end.Sub(start).Seconds(), lat, lon)
}

// FromRemote builds the signature of a remote activity record. Records with
// fewer than two coordinate values have no signature.
func FromRemote(start time.Time, elapsedSeconds int64, latlng []float64) (Signature, bool) {
	if len(latlng) < 2 {
		return Signature{}, false
	}
	return build(start, float64(elapsedSeconds), latlng[0], latlng[1]), true
}

func build(start time.Time, elapsedSeconds, lat, lon float64) Signature {
	return Signature{
		StartMinute:    roundMinutes(float64(start.Unix()) + float64(start.Nanosecond())/float64(time.Second)),
		DurationMinute: roundMinutes(elapsedSeconds),
		Lat4:           round4(lat),
		Lon4:           round4(lon),
	}
}

// Rounding is half-to-even so both sides agree on .5 boundaries.
func roundMinutes(seconds float64) int64 {
	return int64(math.RoundToEven(seconds / 60))
}

func round4(v float64) float64 {
	return math.RoundToEven(v*1e4) / 1e4
}
