package room

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/meeting-signaling/internal/backplane"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"go.uber.org/fx"
)

type HealthResponse struct {
	Status            string `json:"status"`
	InstanceID        string `json:"instanceId"`
	ActiveRooms       int    `json:"activeRooms"`
	TotalParticipants int    `json:"totalParticipants"`
	Uptime            int64  `json:"uptime"`
	Backplane         bool   `json:"backplane"`
	Timestamp         int64  `json:"timestamp"`
}

type roomController struct {
	registry  *Registry
	backplane backplane.Backplane
	startedAt time.Time
	now       func() time.Time
}

func (ctrl *roomController) RoomControllerHealth(ctx echo.Context) error {
	stats := ctrl.registry.Stats()
	now := ctrl.now()
	return ctx.JSON(http.StatusOK, HealthResponse{
		Status:            "ok",
		InstanceID:        stats.InstanceID,
		ActiveRooms:       stats.ActiveRooms,
		TotalParticipants: stats.TotalParticipants,
		Uptime:            int64(now.Sub(ctrl.startedAt) / time.Second),
		Backplane:         ctrl.backplane.Enabled(),
		Timestamp:         now.UnixMilli(),
	})
}

func (ctrl *roomController) RoomControllerStats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctrl.registry.Stats())
}

func (ctrl *roomController) Resolve(c *echo.Echo) error {
	c.GET("/health", ctrl.RoomControllerHealth)
	c.GET("/stats", ctrl.RoomControllerStats)
	return nil
}

var _ protocol.HttpResolvable = (*roomController)(nil)

type newRoomController_Params struct {
	fx.In

	Registry  *Registry
	Backplane backplane.Backplane
}

func NewRoomController(params newRoomController_Params) *roomController {
	return &roomController{
		registry:  params.Registry,
		backplane: params.Backplane,
		startedAt: time.Now(),
		now:       time.Now,
	}
}
