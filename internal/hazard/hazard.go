// Package hazard serves nearby-hazard lookups over a static set of
// zones loaded at startup. Zones sit in an R-tree for bounding-box
// search; each carries a geohash so clients can bucket results on a
// grid.
package hazard

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dhconnelly/rtreego"
	"github.com/mmcloughlin/geohash"

	"github.com/itsshri/NightSafe/internal/geo"
	"github.com/itsshri/NightSafe/internal/models"
)

// Zone is a hazard zone plus its geohash cell.
type Zone struct {
	models.HazardZone
	Geohash string `json:"geohash"`
}

type zoneEntry struct {
	zone Zone
	rect rtreego.Rect
}

func (z *zoneEntry) Bounds() rtreego.Rect { return z.rect }

// Index answers radius queries over the zone set. Read-only after
// construction, safe for concurrent use.
type Index struct {
	tree *rtreego.Rtree
}

func NewIndex(zones []models.HazardZone) (*Index, error) {
	tree := rtreego.NewTree(2, 4, 16)
	for _, hz := range zones {
		dLat, dLng := geo.DegreeSpan(hz.Lat, hz.RadiusM)
		rect, err := rtreego.NewRect(
			rtreego.Point{hz.Lat - dLat, hz.Lng - dLng},
			[]float64{2 * dLat, 2 * dLng},
		)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", hz.Name, err)
		}
		tree.Insert(&zoneEntry{
			zone: Zone{HazardZone: hz, Geohash: geohash.EncodeWithPrecision(hz.Lat, hz.Lng, 7)},
			rect: rect,
		})
	}
	return &Index{tree: tree}, nil
}

// LoadFile reads a JSON array of zones from disk.
func LoadFile(path string) ([]models.HazardZone, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var zones []models.HazardZone
	if err := json.Unmarshal(b, &zones); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return zones, nil
}

// Nearby returns every zone whose hazard circle intersects the query
// circle. The R-tree prefilters by bounding box; haversine settles the
// exact distance.
func (i *Index) Nearby(lat, lng, radiusM float64) []Zone {
	dLat, dLng := geo.DegreeSpan(lat, radiusM)
	rect, err := rtreego.NewRect(
		rtreego.Point{lat - dLat, lng - dLng},
		[]float64{2 * dLat, 2 * dLng},
	)
	if err != nil {
		return nil
	}
	var out []Zone
	for _, sp := range i.tree.SearchIntersect(rect) {
		entry := sp.(*zoneEntry)
		d := geo.Haversine(lat, lng, entry.zone.Lat, entry.zone.Lng)
		if d <= radiusM+entry.zone.RadiusM {
			out = append(out, entry.zone)
		}
	}
	return out
}
