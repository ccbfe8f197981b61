package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"github.com/romashorodok/meeting-signaling/pkg/variables"
	"go.uber.org/fx"
)

type httpServer_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Controllers []protocol.HttpResolvable `group:"http.controller"`
	Logger      *slog.Logger
}

func httpErrorHandler(e *echo.Echo, logger *slog.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		logger.Error(err.Error(),
			slog.String("method", c.Request().Method),
			slog.String("path", c.Request().URL.Path),
		)
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func newRouter(params httpServer_Params) (*echo.Echo, error) {
	router := echo.New()
	router.HideBanner = true
	router.HidePort = true
	router.HTTPErrorHandler = httpErrorHandler(router, params.Logger)

	if err := protocol.ResolveControllers(router, params.Controllers); err != nil {
		return nil, fmt.Errorf("unable resolve controllers. Err: %w", err)
	}
	return router, nil
}

func httpServer(params httpServer_Params) error {
	router, err := newRouter(params)
	if err != nil {
		return err
	}

	address := fmt.Sprintf(":%s", variables.Env(variables.HTTP_PORT_NAME, variables.HTTP_PORT_DEFAULT))
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				params.Logger.Info("http server listening", slog.String("address", address))
				if err := router.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("http server stopped", slog.String("err", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Shutdown(ctx)
		},
	})
	return nil
}

var HttpModule = fx.Module("http", fx.Invoke(httpServer))
