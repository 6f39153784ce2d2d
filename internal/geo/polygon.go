package geo

// BoundingBox is the axis-aligned lat/lon envelope of a polygon.
type BoundingBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Contains reports whether p lies inside or on the edge of the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Bounds computes the bounding box of the vertices. The zero box is
// returned for an empty slice.
func Bounds(vertices []Point) BoundingBox {
	if len(vertices) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{MinLat: vertices[0].Lat, MaxLat: vertices[0].Lat, MinLon: vertices[0].Lon, MaxLon: vertices[0].Lon}
	for _, v := range vertices[1:] {
		if v.Lat < b.MinLat {
			b.MinLat = v.Lat
		}
		if v.Lat > b.MaxLat {
			b.MaxLat = v.Lat
		}
		if v.Lon < b.MinLon {
			b.MinLon = v.Lon
		}
		if v.Lon > b.MaxLon {
			b.MaxLon = v.Lon
		}
	}
	return b
}

// PointInPolygon runs the even-odd ray casting test, treating lat/lon as a
// plane. Polygons with fewer than three vertices contain nothing.
func PointInPolygon(p Point, vertices []Point) bool {
	n := len(vertices)
	if n < 3 {
		return false
	}
	if !Bounds(vertices).Contains(p) {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			lonAtLat := (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lon
			if p.Lon < lonAtLat {
				inside = !inside
			}
		}
	}
	return inside
}
