package variables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnv(t *testing.T) {
	t.Setenv("SIGNALING_TEST_VALUE", "from-env")

	assert.Equal(t, "from-env", Env("SIGNALING_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", Env("SIGNALING_TEST_MISSING", "fallback"))
}

func TestParseList(t *testing.T) {
	for name, testCase := range map[string]struct {
		input    string
		expected []string
	}{
		"Empty":      {"", []string{}},
		"Single":     {"stun:a:1", []string{"stun:a:1"}},
		"Whitespace": {" stun:a:1 , ,turn:b:2 ", []string{"stun:a:1", "turn:b:2"}},
	} {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, ParseList(testCase.input))
		})
	}
}

func TestNumericEnv(t *testing.T) {
	t.Setenv(ROOM_CAPACITY_NAME, "not-a-number")
	assert.Equal(t, 6, IntEnv(ROOM_CAPACITY_NAME, ROOM_CAPACITY_DEFAULT))

	t.Setenv(ROOM_CAPACITY_NAME, " 4 ")
	assert.Equal(t, 4, IntEnv(ROOM_CAPACITY_NAME, ROOM_CAPACITY_DEFAULT))

	t.Setenv(RATE_WINDOW_NAME, "250ms")
	assert.Equal(t, 250*time.Millisecond, DurationEnv(RATE_WINDOW_NAME, RATE_WINDOW_DEFAULT))

	_, err := ParseDuration("soon")
	require.Error(t, err)
}
