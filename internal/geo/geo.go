package geo

import "math"

// EarthRadiusM mean Earth radius in meters.
const EarthRadiusM = 6371000.0

// MovingSpeedThresholdMps below this a GPS speed reading is treated as
// stationary noise rather than real movement.
const MovingSpeedThresholdMps = 3.0

// Haversine returns the great-circle distance in meters between two
// lat/lon points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// Bearing returns the initial bearing in degrees [0, 360) from the first
// point to the second.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := toRad(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(toRad(lat2))
	x := math.Cos(toRad(lat1))*math.Sin(toRad(lat2)) -
		math.Sin(toRad(lat1))*math.Cos(toRad(lat2))*math.Cos(dLon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// EstimateDuration returns travel time in seconds for the given distance.
// The live speed is used only when it indicates actual movement;
// otherwise the fallback average speed (km/h) applies.
func EstimateDuration(distanceM, speedMps, fallbackAvgSpeedKph float64) float64 {
	if speedMps > MovingSpeedThresholdMps {
		return distanceM / speedMps
	}
	return distanceM / (fallbackAvgSpeedKph / 3.6)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
