package signal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"github.com/romashorodok/meeting-signaling/pkg/variables"
	"github.com/romashorodok/meeting-signaling/pkg/wsutils"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

const (
	pongWait       = 60 * time.Second
	pingInterval   = 25 * time.Second
	maxMessageSize = 64 << 10
)

type signalController struct {
	relay      *Relay
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	queueDepth int
	pongWait   time.Duration
	pingPeriod time.Duration
}

func isExpectedClose(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, wsutils.ErrWriterClosed) ||
		errors.Is(err, wsutils.ErrWriterDrained) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

func (ctrl *signalController) SignalControllerConnect(ctx echo.Context) error {
	conn, err := ctrl.upgrader.Upgrade(ctx.Response().Writer, ctx.Request(), nil)
	if err != nil {
		ctrl.logger.Error("unable upgrade request", slog.String("remote", ctx.RealIP()), slog.String("err", err.Error()))
		return err
	}

	w := wsutils.NewThreadSafeWriter(conn, wsutils.WriterOption{
		QueueDepth:   ctrl.queueDepth,
		PingInterval: ctrl.pingPeriod,
	})
	defer w.Close()

	session := NewSession(uuid.NewString(), w, ctrl.logger)
	ctrl.relay.Connect(session)
	defer ctrl.relay.Disconnect(context.Background(), session)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(ctrl.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ctrl.pongWait))
	})

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		defer w.Close()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			_ = conn.SetReadDeadline(time.Now().Add(ctrl.pongWait))

			var message protocol.Message
			if err := json.Unmarshal(frame, &message); err != nil {
				session.Emit(protocol.EventError, protocol.ErrorMessage{Message: "wrong data format"})
				session.logger.Debug("malformed frame", slog.String("err", err.Error()))
				continue
			}

			if err := ctrl.relay.Handle(gctx, session, message); err != nil {
				session.logger.Debug("event not handled", slog.String("event", message.Event), slog.String("err", err.Error()))
			}
		}
	})

	if err := g.Wait(); !isExpectedClose(err) {
		session.logger.Info("connection terminated", slog.String("err", err.Error()))
	}
	if cause := w.Err(); errors.Is(cause, wsutils.ErrQueueOverflow) {
		session.logger.Warn("outbound queue overflow, connection closed", slog.Int("depth", ctrl.queueDepth))
	}
	// The connection is hijacked, echo must not write a response.
	return nil
}

func (ctrl *signalController) Resolve(c *echo.Echo) error {
	c.GET("/ws", ctrl.SignalControllerConnect)
	return nil
}

var _ protocol.HttpResolvable = (*signalController)(nil)

type newSignalController_Params struct {
	fx.In

	Relay  *Relay
	Logger *slog.Logger
}

func NewSignalController(params newSignalController_Params) *signalController {
	return &signalController{
		relay:  params.Relay,
		logger: params.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueDepth: variables.IntEnv(variables.OUTBOUND_QUEUE_DEPTH_NAME, variables.OUTBOUND_QUEUE_DEPTH_DEFAULT),
		pongWait:   pongWait,
		pingPeriod: pingInterval,
	}
}
