package publisher

import (
	"context"
	"math/rand"
	"time"

	"github.com/itsshri/NightSafe/internal/models"
)

// SimSource synthesizes a position stream: a random walk around a
// center point. Used for demo cab identities so the nearby-cabs view
// has something to show without real devices.
type SimSource struct {
	CenterLat float64
	CenterLng float64
	StepDeg   float64
	Interval  time.Duration
}

func NewSimSource(lat, lng float64) *SimSource {
	return &SimSource{CenterLat: lat, CenterLng: lng, StepDeg: 0.0005, Interval: 5 * time.Second}
}

func (s *SimSource) Watch(ctx context.Context) (<-chan models.Position, error) {
	out := make(chan models.Position)
	go func() {
		defer close(out)
		// start offset so concurrent sim cabs spread out
		lat := s.CenterLat + (rand.Float64()-0.5)*0.01
		lng := s.CenterLng + (rand.Float64()-0.5)*0.01
		t := time.NewTicker(s.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				lat += (rand.Float64() - 0.5) * s.StepDeg
				lng += (rand.Float64() - 0.5) * s.StepDeg
				select {
				case out <- models.Position{Lat: lat, Lng: lng, Timestamp: time.Now().UnixMilli()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
