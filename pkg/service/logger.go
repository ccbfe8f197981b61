package service

import (
	"log/slog"
	"os"
	"strings"

	"github.com/romashorodok/meeting-signaling/pkg/variables"
	"go.uber.org/fx"
)

var loggerWriter = os.Stdout

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelDebug
	}
	return level
}

func logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(loggerWriter, &slog.HandlerOptions{
		AddSource: false,
		Level:     parseLevel(variables.Env(variables.LOG_LEVEL_NAME, variables.LOG_LEVEL_DEFAULT)),
	}))
}

var LoggerModule = fx.Module("logger", fx.Provide(
	logger,
))
