package room

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/meeting-signaling/internal/backplane"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, ctrl *roomController, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	require.NoError(t, ctrl.Resolve(e))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec
}

func TestRoomControllerHealth(t *testing.T) {
	r := newTestRegistry()
	join(t, r, "abc123", "a")
	join(t, r, "abc123", "b")

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctrl := &roomController{
		registry:  r,
		backplane: backplane.None(),
		startedAt: started,
		now:       func() time.Time { return started.Add(90 * time.Second) },
	}

	var health HealthResponse
	require.NoError(t, json.Unmarshal(serve(t, ctrl, "/health").Body.Bytes(), &health))
	assert.Equal(t, HealthResponse{
		Status:            "ok",
		InstanceID:        "srv-test",
		ActiveRooms:       1,
		TotalParticipants: 2,
		Uptime:            90,
		Backplane:         false,
		Timestamp:         started.Add(90 * time.Second).UnixMilli(),
	}, health)
}

func TestRoomControllerStats(t *testing.T) {
	r := newTestRegistry()
	join(t, r, "room", "a")
	r.SetLocked("room", true)

	ctrl := &roomController{registry: r, backplane: backplane.None(), startedAt: time.Now(), now: time.Now}

	var stats Snapshot
	require.NoError(t, json.Unmarshal(serve(t, ctrl, "/stats").Body.Bytes(), &stats))
	require.Len(t, stats.Rooms, 1)
	assert.Equal(t, "room", stats.Rooms[0].RoomID)
	assert.Equal(t, 1, stats.Rooms[0].ParticipantCount)
	assert.True(t, stats.Rooms[0].Locked)
	assert.Equal(t, "a", stats.Rooms[0].HostUserID)
}
