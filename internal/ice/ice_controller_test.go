package ice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServers(t *testing.T) {
	servers, skipped := ParseServers([]string{
		"stun:stun.l.google.com:19302",
		"turn:turn.example.com:3478",
		"http://bogus",
	}, "user", "secret")

	require.Len(t, servers, 2)
	assert.Equal(t, []string{"http://bogus"}, skipped)

	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)
	assert.Empty(t, servers[0].Username, "stun servers carry no credentials")

	assert.Equal(t, "user", servers[1].Username)
	assert.Equal(t, "secret", servers[1].Credential)
}

func TestIceServersEndpoint(t *testing.T) {
	servers, _ := ParseServers([]string{"stun:a:1", "stun:b:2"}, "", "")
	ctrl := &iceController{servers: servers}

	e := echo.New()
	require.NoError(t, ctrl.Resolve(e))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice-servers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.ICEServers, 2)
	assert.Equal(t, []string{"stun:b:2"}, body.ICEServers[1].URLs)
}
