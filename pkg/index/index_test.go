package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestSignatureRepresentationIndependent(t *testing.T) {
	parsed, err := time.Parse(time.RFC3339, "2024-05-01T12:00:00+02:00")
	require.NoError(t, err)

	local := FromTrack(parsed, parsed.Add(time.Hour), 37.77504, -122.41896)
	remote, ok := FromRemote(base, 3600, []float64{37.775, -122.419})
	require.True(t, ok)

	assert.Equal(t, remote, local)
	assert.Equal(t, Signature{StartMinute: base.Unix() / 60, DurationMinute: 60, Lat4: 37.775, Lon4: -122.419}, local)
}

func TestSignatureRounding(t *testing.T) {
	sig := FromTrack(base.Add(29*time.Second), base.Add(29*time.Second+89*time.Second), 0.00004, -0.00006)
	assert.Equal(t, base.Unix()/60, sig.StartMinute)
	assert.Equal(t, int64(1), sig.DurationMinute)
	assert.Equal(t, 0.0, sig.Lat4)
	assert.Equal(t, -0.0001, sig.Lon4)
}

func TestFromRemoteWithoutCoordinates(t *testing.T) {
	for _, latlng := range [][]float64{nil, {}, {37.7}} {
		_, ok := FromRemote(base, 600, latlng)
		assert.False(t, ok, "%v", latlng)
	}
}

func TestFindDuplicateWindow(t *testing.T) {
	remote, _ := FromRemote(base, 3600, []float64{37.775, -122.419})
	idx := NewDuplicateIndex()
	idx.Insert(remote, 42)

	tests := []struct {
		name   string
		offset time.Duration
		dur    time.Duration
		lat    float64
		want   bool
	}{
		{name: "exact", dur: time.Hour, lat: 37.775, want: true},
		{name: "two minutes late", offset: 2 * time.Minute, dur: time.Hour, lat: 37.775, want: true},
		{name: "two minutes early", offset: -2 * time.Minute, dur: time.Hour, lat: 37.775, want: true},
		{name: "three minutes late", offset: 3 * time.Minute, dur: time.Hour, lat: 37.775, want: false},
		{name: "duration three shorter", dur: 57 * time.Minute, lat: 37.775, want: true},
		{name: "duration four longer", dur: 64 * time.Minute, lat: 37.775, want: false},
		{name: "moved one step", dur: time.Hour, lat: 37.7751, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := base.Add(tt.offset)
			id, ok := idx.FindDuplicate(FromTrack(start, start.Add(tt.dur), tt.lat, -122.419))
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, int64(42), id)
			}
		})
	}
}

func TestFindDuplicateEnumerationOrder(t *testing.T) {
	probe := Signature{StartMinute: 1000, DurationMinute: 60, Lat4: 1, Lon4: 2}

	idx := NewDuplicateIndex()
	// Closer in start but a later start offset than the -2 entry.
	idx.Insert(Signature{StartMinute: 1000, DurationMinute: 60, Lat4: 1, Lon4: 2}, 1)
	idx.Insert(Signature{StartMinute: 998, DurationMinute: 63, Lat4: 1, Lon4: 2}, 2)
	idx.Insert(Signature{StartMinute: 998, DurationMinute: 62, Lat4: 1, Lon4: 2}, 3)

	id, ok := idx.FindDuplicate(probe)
	require.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestInsertCollisions(t *testing.T) {
	sig := Signature{StartMinute: 1, DurationMinute: 2, Lat4: 3, Lon4: 4}
	idx := NewDuplicateIndex()
	idx.Insert(sig, 1)
	idx.Insert(sig, 2)

	id, ok := idx.FindDuplicate(sig)
	require.True(t, ok)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, idx.Collisions())
}
