package geo

import "testing"

func TestHaversineZero(t *testing.T) {
	if d := Haversine(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLat(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	// one degree of latitude is ~111.2km
	if d < 110000 || d > 112500 {
		t.Fatalf("unexpected distance %f", d)
	}
}

func TestDegreeSpanEquator(t *testing.T) {
	dLat, dLng := DegreeSpan(0, 111320)
	if dLat < 0.99 || dLat > 1.01 {
		t.Fatalf("dLat = %f", dLat)
	}
	if dLng < 0.99 || dLng > 1.01 {
		t.Fatalf("dLng = %f", dLng)
	}
}
