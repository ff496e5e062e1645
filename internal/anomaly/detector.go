// Package anomaly classifies logins by travel plausibility and device change, and escalates
// repeated anomalies per user.
package anomaly

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

// Type classifies a login relative to the user's previous session.
type Type string

const (
	TypeNone                 Type = "NONE"
	TypeImpossibleTravel     Type = "IMPOSSIBLE_TRAVEL"
	TypeNewDeviceQuickChange Type = "NEW_DEVICE_QUICK_CHANGE"
)

// Thresholds configure classification.
type Thresholds struct {
	// MaxSpeedKmh is the highest plausible travel speed.
	MaxSpeedKmh float64
	// QuickChangeMinutes is the window in which switching devices is suspicious.
	QuickChangeMinutes float64
}

// DefaultThresholds returns a commercial-flight speed ceiling and a five-minute device window.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxSpeedKmh: 900, QuickChangeMinutes: 5}
}

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Point is one login: where, when and from which device. Location is nil when unknown.
type Point struct {
	SessionID string
	DeviceID  string
	Location  *Coordinates
	At        time.Time
}

// Result is the outcome of Detect.
type Result struct {
	IsAnomalous           bool
	Type                  Type
	PreviousSessionID     string
	DistanceKm            float64
	TimeDifferenceMinutes float64
	RequiredSpeedKmh      float64
}

// Metadata renders the result for a security event.
func (r Result) Metadata() map[string]any {
	return map[string]any{
		"type":                    string(r.Type),
		"previous_session_id":     r.PreviousSessionID,
		"distance_km":             round2(r.DistanceKm),
		"time_difference_minutes": round2(r.TimeDifferenceMinutes),
		"required_speed_kmh":      round2(r.RequiredSpeedKmh),
	}
}

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// ElapsedMinutes returns |t2 - t1| in fractional minutes, never less than 1.
func ElapsedMinutes(t1, t2 time.Time) float64 {
	m := math.Abs(t2.Sub(t1).Minutes())
	return math.Max(1, m)
}

// Classify applies the thresholds to already-computed measurements.
// Impossible travel wins over a quick device change.
func Classify(sameDevice bool, distanceKm, elapsedMinutes float64, th Thresholds) (Type, float64) {
	elapsedMinutes = math.Max(1, elapsedMinutes)
	speed := distanceKm / (elapsedMinutes / 60)
	switch {
	case speed > th.MaxSpeedKmh:
		return TypeImpossibleTravel, speed
	case !sameDevice && elapsedMinutes < th.QuickChangeMinutes:
		return TypeNewDeviceQuickChange, speed
	default:
		return TypeNone, speed
	}
}

// Detect compares cur with the previous login. A nil prev is never anomalous.
// When either location is unknown the distance check is skipped and only the device rule applies.
func Detect(prev *Point, cur Point, th Thresholds) Result {
	if prev == nil {
		return Result{Type: TypeNone}
	}
	res := Result{
		PreviousSessionID:     prev.SessionID,
		TimeDifferenceMinutes: ElapsedMinutes(prev.At, cur.At),
	}
	if prev.Location != nil && cur.Location != nil {
		res.DistanceKm = HaversineKm(*prev.Location, *cur.Location)
	}
	res.Type, res.RequiredSpeedKmh = Classify(prev.DeviceID == cur.DeviceID, res.DistanceKm, res.TimeDifferenceMinutes, th)
	res.IsAnomalous = res.Type != TypeNone
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
