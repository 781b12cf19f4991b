package geofence

import (
	"math"
	"testing"
)

var targetT1 = Coordinate{Latitude: 41.9317, Longitude: 2.2518}

func TestIsWithinAcceptsIdenticalCoordinates(t *testing.T) {
	points := []Coordinate{
		targetT1,
		{Latitude: 0, Longitude: 0},
		{Latitude: -33.8688, Longitude: 151.2093},
		{Latitude: 89.9, Longitude: -179.9},
	}
	for _, point := range points {
		for _, radius := range []float64{0, 0.5, 20, 10000} {
			within, distance := IsWithin(point, point, radius)
			if !within {
				t.Fatalf("expected %v to be within %.1fm of itself", point, radius)
			}
			if distance != 0 {
				t.Fatalf("expected zero distance, got %f", distance)
			}
		}
	}
}

func TestIsWithinZeroRadiusRejectsDistinctPoints(t *testing.T) {
	other := Coordinate{Latitude: 41.93171, Longitude: 2.2518}
	within, distance := IsWithin(other, targetT1, 0)
	if within {
		t.Fatalf("expected zero radius to reject distinct coordinates")
	}
	if distance <= 0 {
		t.Fatalf("expected positive distance, got %f", distance)
	}
}

func TestIsWithinScenarioT1(t *testing.T) {
	within, distance := IsWithin(targetT1, targetT1, 20)
	if !within || distance != 0 {
		t.Fatalf("expected claim at the target to be accepted, got within=%v distance=%f", within, distance)
	}

	nearby := Coordinate{Latitude: 41.9306, Longitude: 2.2534}
	within, distance = IsWithin(nearby, targetT1, 20)
	if within {
		t.Fatalf("expected claim %.1fm away to be rejected", distance)
	}
	if distance < 140 || distance > 200 {
		t.Fatalf("expected distance in the 150-180m range, got %f", distance)
	}
}

func TestDistanceMetersKnownDistance(t *testing.T) {
	// One degree of latitude along a meridian is roughly 111.3km on the sphere.
	distance := DistanceMeters(Coordinate{Latitude: 0, Longitude: 0}, Coordinate{Latitude: 1, Longitude: 0})
	if math.Abs(distance-111319) > 0.01*111319 {
		t.Fatalf("unexpected meridian degree length %f", distance)
	}
}

func TestIsWithinNegativeRadius(t *testing.T) {
	within, _ := IsWithin(targetT1, targetT1, -1)
	if within {
		t.Fatalf("expected negative radius to reject")
	}
}

func TestCoordinateValid(t *testing.T) {
	testCases := []struct {
		coordinate Coordinate
		want       bool
	}{
		{coordinate: targetT1, want: true},
		{coordinate: Coordinate{Latitude: 90, Longitude: 180}, want: true},
		{coordinate: Coordinate{Latitude: 90.1, Longitude: 0}, want: false},
		{coordinate: Coordinate{Latitude: 0, Longitude: -180.5}, want: false},
		{coordinate: Coordinate{Latitude: math.NaN(), Longitude: 0}, want: false},
		{coordinate: Coordinate{Latitude: 0, Longitude: math.Inf(1)}, want: false},
	}
	for _, testCase := range testCases {
		if got := testCase.coordinate.Valid(); got != testCase.want {
			t.Fatalf("Valid(%v) = %v, want %v", testCase.coordinate, got, testCase.want)
		}
	}
}

func TestBoundAroundContainsRadius(t *testing.T) {
	box := BoundAround(targetT1, 1000)
	if box.WrapsLongitude {
		t.Fatalf("did not expect a wrapped box near Girona")
	}
	if !(box.MinLatitude < targetT1.Latitude && targetT1.Latitude < box.MaxLatitude) {
		t.Fatalf("expected latitude inside box: %+v", box)
	}
	if !(box.MinLongitude < targetT1.Longitude && targetT1.Longitude < box.MaxLongitude) {
		t.Fatalf("expected longitude inside box: %+v", box)
	}
	north := Coordinate{Latitude: box.MaxLatitude, Longitude: targetT1.Longitude}
	if distance := DistanceMeters(targetT1, north); distance < 990 {
		t.Fatalf("expected box edge at least ~1km away, got %f", distance)
	}
}

func TestBoundAroundAntimeridian(t *testing.T) {
	box := BoundAround(Coordinate{Latitude: 0, Longitude: 179.999}, 5000)
	if !box.WrapsLongitude {
		t.Fatalf("expected box crossing the antimeridian to be marked as wrapping: %+v", box)
	}
}
