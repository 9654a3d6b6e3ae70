package om

import (
	"encoding/json"
	"time"

	"github.com/twpayne/go-geom"
)

// TemporalExtent is an instant when Begin equals End, a period otherwise,
// and empty when neither is set.
type TemporalExtent struct {
	Begin *time.Time `json:"begin,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// IsEmpty reports whether no time was recorded.
func (e TemporalExtent) IsEmpty() bool {
	return e.Begin == nil || e.End == nil
}

// IsInstant reports whether the extent collapses to a single time.
func (e TemporalExtent) IsInstant() bool {
	return !e.IsEmpty() && e.Begin.Equal(*e.End)
}

// Envelope is a lon/lat bounding box in EPSG:4326.
type Envelope struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// SpatioTemporalBound accumulates the tightest time interval and lon/lat box
// covering every date and position added to it. The zero value is an empty
// bound ready for use.
type SpatioTemporalBound struct {
	MinTime *time.Time
	MaxTime *time.Time

	// Geometry is the sampling feature geometry attached once extraction of
	// the owning group completes. Merge never touches it.
	Geometry geom.T

	spatial *geom.Bounds
}

// NewBound returns an empty bound.
func NewBound() *SpatioTemporalBound {
	return &SpatioTemporalBound{}
}

// AddDate widens the time interval to include t.
func (b *SpatioTemporalBound) AddDate(t time.Time) {
	t = t.UTC()
	if b.MinTime == nil || t.Before(*b.MinTime) {
		v := t
		b.MinTime = &v
	}
	if b.MaxTime == nil || t.After(*b.MaxTime) {
		v := t
		b.MaxTime = &v
	}
}

// AddPosition widens the spatial box to include (lon, lat).
func (b *SpatioTemporalBound) AddPosition(lon, lat float64) {
	if b.spatial == nil {
		b.spatial = geom.NewBounds(geom.XY)
	}
	b.spatial.Extend(geom.NewPointFlat(geom.XY, []float64{lon, lat}))
}

// Merge widens b to cover other. A nil or empty other is a no-op.
func (b *SpatioTemporalBound) Merge(other *SpatioTemporalBound) {
	if other == nil {
		return
	}
	if other.MinTime != nil {
		b.AddDate(*other.MinTime)
	}
	if other.MaxTime != nil {
		b.AddDate(*other.MaxTime)
	}
	if env, ok := other.Envelope(); ok {
		b.AddPosition(env.MinLon, env.MinLat)
		b.AddPosition(env.MaxLon, env.MaxLat)
	}
}

// SetGeometry attaches the sampling feature geometry of the owning group.
func (b *SpatioTemporalBound) SetGeometry(g geom.T) {
	b.Geometry = g
}

// TemporalExtent returns the recorded time interval.
func (b *SpatioTemporalBound) TemporalExtent() TemporalExtent {
	return TemporalExtent{Begin: b.MinTime, End: b.MaxTime}
}

// Envelope returns the spatial box and whether any position was added.
func (b *SpatioTemporalBound) Envelope() (Envelope, bool) {
	if b.spatial == nil || b.spatial.IsEmpty() {
		return Envelope{}, false
	}
	return Envelope{
		MinLon: b.spatial.Min(0),
		MinLat: b.spatial.Min(1),
		MaxLon: b.spatial.Max(0),
		MaxLat: b.spatial.Max(1),
	}, true
}

// IsEmpty reports whether neither a date nor a position was added.
func (b *SpatioTemporalBound) IsEmpty() bool {
	_, hasBox := b.Envelope()
	return b.MinTime == nil && !hasBox
}

// Clone returns an independent copy of b without its geometry.
func (b *SpatioTemporalBound) Clone() *SpatioTemporalBound {
	c := NewBound()
	c.Merge(b)
	return c
}

type boundJSON struct {
	MinTime  *time.Time `json:"min_time,omitempty"`
	MaxTime  *time.Time `json:"max_time,omitempty"`
	Envelope *Envelope  `json:"envelope,omitempty"`
}

// MarshalJSON encodes the time interval and envelope. Geometry is omitted.
func (b *SpatioTemporalBound) MarshalJSON() ([]byte, error) {
	out := boundJSON{MinTime: b.MinTime, MaxTime: b.MaxTime}
	if env, ok := b.Envelope(); ok {
		out.Envelope = &env
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (b *SpatioTemporalBound) UnmarshalJSON(data []byte) error {
	var in boundJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*b = SpatioTemporalBound{}
	if in.MinTime != nil {
		b.AddDate(*in.MinTime)
	}
	if in.MaxTime != nil {
		b.AddDate(*in.MaxTime)
	}
	if in.Envelope != nil {
		b.AddPosition(in.Envelope.MinLon, in.Envelope.MinLat)
		b.AddPosition(in.Envelope.MaxLon, in.Envelope.MaxLat)
	}
	return nil
}
