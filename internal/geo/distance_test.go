package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/groupbuy/internal/model"
)

func TestDistanceKm(t *testing.T) {
	tests := []struct {
		name  string
		a, b  model.Coordinates
		want  float64
		delta float64
	}{
		{
			name:  "same point",
			a:     model.Coordinates{Lat: 19.076, Lon: 72.8777},
			b:     model.Coordinates{Lat: 19.076, Lon: 72.8777},
			want:  0,
			delta: 1e-9,
		},
		{
			name:  "one degree of latitude",
			a:     model.Coordinates{Lat: 0, Lon: 0},
			b:     model.Coordinates{Lat: 1, Lon: 0},
			want:  111.19,
			delta: 0.05,
		},
		{
			name:  "mumbai to pune",
			a:     model.Coordinates{Lat: 19.0760, Lon: 72.8777},
			b:     model.Coordinates{Lat: 18.5204, Lon: 73.8567},
			want:  119.9,
			delta: 1.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DistanceKm(tt.a, tt.b), tt.delta)
			assert.InDelta(t, tt.want, DistanceKm(tt.b, tt.a), tt.delta)
		})
	}
}
