package geo

import (
	"math"
	"testing"

	"tram/internal/types"
)

func TestDistanceKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 13.7000, Lng: 100.5000},
			b:         types.Point{Lat: 13.7000, Lng: 100.5000},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "forty metres north",
			a:         types.Point{Lat: 13.7000, Lng: 100.5000},
			b:         types.Point{Lat: 13.70036, Lng: 100.5000},
			wantKm:    0.040,
			tolerance: 0.002,
		},
		{
			name:      "Bangkok to Chiang Mai (~580km)",
			a:         types.Point{Lat: 13.7563, Lng: 100.5018},
			b:         types.Point{Lat: 18.7883, Lng: 98.9853},
			wantKm:    580,
			tolerance: 10,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("DistanceKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestDistanceKm_Symmetry(t *testing.T) {
	a := types.Point{Lat: 13.7, Lng: 100.5}
	b := types.Point{Lat: 14.1, Lng: 101.2}
	d1 := DistanceKm(a, b)
	d2 := DistanceKm(b, a)
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("distance is not symmetric: %f vs %f", d1, d2)
	}
}
