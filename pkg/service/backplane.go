package service

import (
	"context"
	"log/slog"

	"github.com/romashorodok/meeting-signaling/internal/backplane"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"github.com/romashorodok/meeting-signaling/pkg/variables"
	"go.uber.org/fx"
)

func backplaneURL(driver string) string {
	switch driver {
	case backplane.DriverNats:
		return variables.Env(variables.NATS_URL_NAME, variables.NATS_URL_DEFAULT)
	default:
		return variables.Env(variables.REDIS_URL_NAME, variables.REDIS_URL_DEFAULT)
	}
}

type backplane_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Instance protocol.InstanceID
	Logger   *slog.Logger
}

func openBackplane(params backplane_Params) backplane.Backplane {
	driver := variables.Env(variables.BACKPLANE_DRIVER_NAME, variables.BACKPLANE_DRIVER_DEFAULT)

	bp := backplane.Open(context.Background(), backplane.Option{
		Driver:         driver,
		URL:            backplaneURL(driver),
		Prefix:         variables.Env(variables.BACKPLANE_PREFIX_NAME, variables.BACKPLANE_PREFIX_DEFAULT),
		InstanceID:     string(params.Instance),
		ConnectTimeout: variables.DurationEnv(variables.BACKPLANE_CONNECT_TIMEOUT_NAME, variables.BACKPLANE_CONNECT_TIMEOUT_DEFAULT),
		Logger:         params.Logger,
	})

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return bp.Close()
		},
	})
	return bp
}

var BackplaneModule = fx.Module("backplane", fx.Provide(
	openBackplane,
))
