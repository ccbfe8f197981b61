package service

import (
	"log/slog"
	"os"

	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"github.com/romashorodok/meeting-signaling/pkg/variables"
	"go.uber.org/fx"
)

func instanceID() protocol.InstanceID {
	if id := os.Getenv(variables.SERVER_INSTANCE_ID_NAME); id != "" {
		return protocol.InstanceID(id)
	}
	return protocol.NewInstanceID()
}

var InstanceModule = fx.Module("instance",
	fx.Provide(instanceID),
	fx.Invoke(func(logger *slog.Logger, id protocol.InstanceID) {
		logger.Info("signaling instance", slog.String("instanceId", string(id)))
	}),
)
