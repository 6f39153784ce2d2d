// Package geo holds the spatial helpers shared by the geofence engine,
// the flight plan executor and the telemetry generator.
package geo

import "math"

// EarthRadiusM is the mean earth radius used by the haversine formulas.
const EarthRadiusM = 6371000.0

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point has finite coordinates within WGS84 range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(r float64) float64   { return r * 180 / math.Pi }

// DistanceMeters calculates the haversine distance between two points.
func DistanceMeters(a, b Point) float64 {
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c
}

// BearingDeg returns the initial great-circle bearing from a to b in [0, 360).
func BearingDeg(a, b Point) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLon := rad(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(deg(math.Atan2(y, x))+360, 360)
}

// Destination moves distance meters from p along bearing (degrees).
func Destination(p Point, bearingDeg, distance float64) Point {
	if distance == 0 {
		return p
	}
	d := distance / EarthRadiusM
	brg := rad(bearingDeg)
	lat1, lon1 := rad(p.Lat), rad(p.Lon)
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return Point{Lat: deg(lat2), Lon: math.Mod(deg(lon2)+540, 360) - 180}
}

// MoveToward steps at most step meters from p toward target. It returns the
// target itself once it is within reach.
func MoveToward(p, target Point, step float64) Point {
	dist := DistanceMeters(p, target)
	if dist <= step || dist == 0 {
		return target
	}
	return Destination(p, BearingDeg(p, target), step)
}
