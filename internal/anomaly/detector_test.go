package anomaly

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	origin = Coordinates{Lat: 0, Lon: 0}
	london = Coordinates{Lat: 51.5, Lon: -0.1}
	nyc    = Coordinates{Lat: 40.7128, Lon: -74.0060}
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	assert.InDelta(t, 5726.5, HaversineKm(origin, london), 1)
	assert.InDelta(t, 5570.2, HaversineKm(Coordinates{51.5074, -0.1278}, nyc), 1)
	assert.Equal(t, 0.0, HaversineKm(london, london))
}

func TestHaversineKm_Symmetric(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		a := Coordinates{Lat: r.Float64()*180 - 90, Lon: r.Float64()*360 - 180}
		b := Coordinates{Lat: r.Float64()*180 - 90, Lon: r.Float64()*360 - 180}
		assert.InDelta(t, HaversineKm(a, b), HaversineKm(b, a), 1e-9)
		assert.LessOrEqual(t, HaversineKm(a, b), EarthRadiusKm*3.1416)
	}
}

func TestElapsedMinutes(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 10.0, ElapsedMinutes(t0, t0.Add(10*time.Minute)))
	assert.Equal(t, 10.0, ElapsedMinutes(t0.Add(10*time.Minute), t0))
	assert.Equal(t, 1.0, ElapsedMinutes(t0, t0))
	assert.Equal(t, 1.0, ElapsedMinutes(t0, t0.Add(20*time.Second)))
	assert.Equal(t, 2.5, ElapsedMinutes(t0, t0.Add(150*time.Second)))
}

func TestDetect_OriginToLondonIsImpossibleTravel(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	prev := &Point{SessionID: "s1", DeviceID: "d1", Location: &origin, At: t0}
	cur := Point{DeviceID: "d2", Location: &london, At: t0.Add(10 * time.Minute)}

	res := Detect(prev, cur, DefaultThresholds())
	assert.True(t, res.IsAnomalous)
	assert.Equal(t, TypeImpossibleTravel, res.Type)
	assert.Equal(t, "s1", res.PreviousSessionID)
	assert.Equal(t, 10.0, res.TimeDifferenceMinutes)
	assert.InDelta(t, 34359, res.RequiredSpeedKmh, 10)
}

func TestDetect_LondonToNewYorkSpeed(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ldn := Coordinates{51.5074, -0.1278}
	prev := &Point{SessionID: "s1", DeviceID: "d1", Location: &ldn, At: t0}
	cur := Point{DeviceID: "d2", Location: &nyc, At: t0.Add(10 * time.Minute)}

	res := Detect(prev, cur, DefaultThresholds())
	assert.Equal(t, TypeImpossibleTravel, res.Type)
	assert.InDelta(t, 33420, res.RequiredSpeedKmh, 5)
}

func TestDetect_SameDeviceZeroDistanceIsNone(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, elapsed := range []time.Duration{0, time.Second, time.Minute, 3 * time.Minute, 48 * time.Hour} {
		prev := &Point{SessionID: "s1", DeviceID: "d1", Location: &london, At: t0}
		cur := Point{DeviceID: "d1", Location: &london, At: t0.Add(elapsed)}
		res := Detect(prev, cur, DefaultThresholds())
		assert.Equal(t, TypeNone, res.Type, "elapsed %v", elapsed)
		assert.False(t, res.IsAnomalous)
	}
}

func TestDetect_NewDeviceQuickChange(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	prev := &Point{SessionID: "s1", DeviceID: "d1", Location: &london, At: t0}

	quick := Detect(prev, Point{DeviceID: "d2", Location: &london, At: t0.Add(2 * time.Minute)}, DefaultThresholds())
	assert.Equal(t, TypeNewDeviceQuickChange, quick.Type)

	// Applies without any location.
	noLoc := Detect(&Point{SessionID: "s1", DeviceID: "d1", At: t0}, Point{DeviceID: "d2", At: t0.Add(time.Minute)}, DefaultThresholds())
	assert.Equal(t, TypeNewDeviceQuickChange, noLoc.Type)
	assert.Zero(t, noLoc.DistanceKm)

	slow := Detect(prev, Point{DeviceID: "d2", Location: &london, At: t0.Add(6 * time.Minute)}, DefaultThresholds())
	assert.Equal(t, TypeNone, slow.Type)
}

func TestDetect_NoPreviousSession(t *testing.T) {
	res := Detect(nil, Point{DeviceID: "d1", Location: &london, At: time.Now()}, DefaultThresholds())
	assert.Equal(t, TypeNone, res.Type)
	assert.False(t, res.IsAnomalous)
}

func TestDetect_Deterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	prev := &Point{SessionID: "s1", DeviceID: "d1", Location: &origin, At: t0}
	cur := Point{DeviceID: "d2", Location: &london, At: t0.Add(90 * time.Minute)}
	first := Detect(prev, cur, DefaultThresholds())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Detect(prev, cur, DefaultThresholds()))
	}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	typ, speed := Classify(true, 900, 60, th)
	assert.Equal(t, TypeNone, typ, "exactly the ceiling is plausible")
	assert.Equal(t, 900.0, speed)

	typ, _ = Classify(true, 901, 60, th)
	assert.Equal(t, TypeImpossibleTravel, typ)

	typ, _ = Classify(false, 0, 0, th)
	assert.Equal(t, TypeNewDeviceQuickChange, typ, "elapsed clamps to one minute")
}

func TestResultMetadata(t *testing.T) {
	m := Result{Type: TypeImpossibleTravel, PreviousSessionID: "s1", DistanceKm: 5726.5464, RequiredSpeedKmh: 34359.2786, TimeDifferenceMinutes: 10}.Metadata()
	assert.Equal(t, "IMPOSSIBLE_TRAVEL", m["type"])
	assert.Equal(t, 5726.55, m["distance_km"])
	assert.Equal(t, "s1", m["previous_session_id"])
}
