package protocol

import (
	"errors"
	"fmt"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const HttpControllerGroup = `group:"http.controller"`

type HttpRouter = *echo.Echo

// HttpResolvable attaches its routes to the shared router.
type HttpResolvable interface {
	Resolve(HttpRouter) error
}

type HttpResolvableFunc func(HttpRouter) error

func (f HttpResolvableFunc) Resolve(router HttpRouter) error {
	return f(router)
}

func AsHttpController(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(HttpResolvable)),
		fx.ResultTags(HttpControllerGroup),
	)
}

// ResolveControllers resolves every controller and reports all failures together.
func ResolveControllers(router HttpRouter, controllers []HttpResolvable) error {
	var errs []error
	for _, controller := range controllers {
		if err := controller.Resolve(router); err != nil {
			errs = append(errs, fmt.Errorf("resolve %T. Err: %w", controller, err))
		}
	}
	return errors.Join(errs...)
}
