// Package geo содержит расчёт расстояний для подбора ближайших групп.
package geo

import (
	"math"

	"github.com/mmeshcher/groupbuy/internal/model"
)

const earthRadiusKm = 6371.0

// DistanceKm возвращает расстояние по дуге большого круга между двумя точками в километрах.
func DistanceKm(a, b model.Coordinates) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
