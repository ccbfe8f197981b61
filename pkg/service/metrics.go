package service

import (
	"errors"

	"github.com/romashorodok/meeting-signaling/internal/metrics"
	"github.com/romashorodok/meeting-signaling/internal/room"
	"github.com/romashorodok/meeting-signaling/internal/signal"
	"go.uber.org/fx"
)

type metricsGauges_Params struct {
	fx.In

	Metrics  *metrics.Metrics
	Registry *room.Registry
	Hub      *signal.Hub
}

func metricsGauges(params metricsGauges_Params) error {
	return errors.Join(
		params.Metrics.GaugeFunc("active_rooms", "Rooms with at least one participant on this instance.", func() float64 {
			return float64(params.Registry.RoomCount())
		}),
		params.Metrics.GaugeFunc("live_connections", "Open signaling connections on this instance.", func() float64 {
			return float64(params.Hub.Len())
		}),
	)
}

var MetricsModule = fx.Module("metrics",
	fx.Provide(metrics.New),
	fx.Invoke(metricsGauges),
)
