package main

import (
	"github.com/romashorodok/meeting-signaling/internal/ice"
	"github.com/romashorodok/meeting-signaling/internal/metrics"
	"github.com/romashorodok/meeting-signaling/internal/ratelimit"
	"github.com/romashorodok/meeting-signaling/internal/room"
	"github.com/romashorodok/meeting-signaling/internal/signal"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"github.com/romashorodok/meeting-signaling/pkg/service"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fx.Provide(
			room.NewRegistry,
			ratelimit.NewLimiter,
			signal.NewHub,
			signal.NewRelay,

			protocol.AsHttpController(signal.NewSignalController),
			protocol.AsHttpController(room.NewRoomController),
			protocol.AsHttpController(ice.NewIceController),
			protocol.AsHttpController(metrics.NewMetricsController),
		),

		service.LoggerModule,
		service.InstanceModule,
		service.BackplaneModule,
		service.MetricsModule,
		service.HttpModule,
	).Run()
}
