package ice

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	echo "github.com/labstack/echo/v4"
	webrtc "github.com/pion/webrtc/v4"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"github.com/romashorodok/meeting-signaling/pkg/variables"
	"go.uber.org/fx"
)

var schemes = []string{"stun:", "stuns:", "turn:", "turns:"}

func validScheme(url string) bool {
	for _, scheme := range schemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

// ParseServers builds one ICE server per url. Credentials are attached to TURN urls only.
func ParseServers(urls []string, username, credential string) ([]webrtc.ICEServer, []string) {
	var (
		servers = make([]webrtc.ICEServer, 0, len(urls))
		skipped []string
	)
	for _, url := range urls {
		if !validScheme(url) {
			skipped = append(skipped, url)
			continue
		}
		server := webrtc.ICEServer{URLs: []string{url}}
		if strings.HasPrefix(url, "turn") && username != "" {
			server.Username = username
			server.Credential = credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers, skipped
}

type ICEServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

type iceController struct {
	servers []webrtc.ICEServer
}

func (ctrl *iceController) IceControllerList(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ICEServersResponse{ICEServers: ctrl.servers})
}

func (ctrl *iceController) Resolve(c *echo.Echo) error {
	c.GET("/ice-servers", ctrl.IceControllerList)
	return nil
}

var _ protocol.HttpResolvable = (*iceController)(nil)

type newIceController_Params struct {
	fx.In

	Logger *slog.Logger
}

func NewIceController(params newIceController_Params) *iceController {
	servers, skipped := ParseServers(
		variables.ParseList(variables.Env(variables.ICE_SERVERS_NAME, variables.ICE_SERVERS_DEFAULT)),
		os.Getenv(variables.ICE_USERNAME_NAME),
		os.Getenv(variables.ICE_CREDENTIAL_NAME),
	)
	for _, url := range skipped {
		params.Logger.Warn("skip ice server with unsupported scheme", slog.String("url", url))
	}
	return &iceController{servers: servers}
}
