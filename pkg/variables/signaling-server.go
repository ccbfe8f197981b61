package variables

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	HTTP_PORT_DEFAULT = "8080"
	HTTP_PORT_NAME    = "HTTP_PORT"

	SERVER_INSTANCE_ID_NAME = "SERVER_INSTANCE_ID"

	LOG_LEVEL_DEFAULT = "debug"
	LOG_LEVEL_NAME    = "LOG_LEVEL"

	ROOM_CAPACITY_DEFAULT = "6"
	ROOM_CAPACITY_NAME    = "ROOM_CAPACITY"

	OUTBOUND_QUEUE_DEPTH_DEFAULT = "256"
	OUTBOUND_QUEUE_DEPTH_NAME    = "OUTBOUND_QUEUE_DEPTH"
)

const (
	BACKPLANE_DRIVER_DEFAULT = "redis"
	BACKPLANE_DRIVER_NAME    = "BACKPLANE_DRIVER"

	BACKPLANE_PREFIX_DEFAULT = "meeting"
	BACKPLANE_PREFIX_NAME    = "BACKPLANE_PREFIX"

	BACKPLANE_CONNECT_TIMEOUT_DEFAULT = "3s"
	BACKPLANE_CONNECT_TIMEOUT_NAME    = "BACKPLANE_CONNECT_TIMEOUT"

	REDIS_URL_DEFAULT = "redis://localhost:6379"
	REDIS_URL_NAME    = "REDIS_URL"

	NATS_URL_DEFAULT = "nats://localhost:4222"
	NATS_URL_NAME    = "NATS_URL"
)

const (
	RATE_SIGNAL_MAX_DEFAULT = "30"
	RATE_SIGNAL_MAX_NAME    = "RATE_SIGNAL_MAX"

	RATE_REACTION_MAX_DEFAULT = "5"
	RATE_REACTION_MAX_NAME    = "RATE_REACTION_MAX"

	RATE_CHAT_MAX_DEFAULT = "2"
	RATE_CHAT_MAX_NAME    = "RATE_CHAT_MAX"

	RATE_WINDOW_DEFAULT = "1s"
	RATE_WINDOW_NAME    = "RATE_WINDOW"
)

const (
	ICE_SERVERS_DEFAULT = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302"
	ICE_SERVERS_NAME    = "ICE_SERVERS"

	ICE_USERNAME_NAME   = "ICE_USERNAME"
	ICE_CREDENTIAL_NAME = "ICE_CREDENTIAL"
)

func Env(variableName, defaultValue string) string {
	if variable := os.Getenv(variableName); variable != "" {
		log.Printf("[%s]: %s", variableName, variable)
		return variable
	}
	log.Printf("[%s_DEFAULT]: %s", variableName, defaultValue)
	return defaultValue
}

func ParseInt(value string) (int, error) {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("unable parse %q as int. Err: %w", value, err)
	}
	return result, nil
}

func ParseDuration(value string) (time.Duration, error) {
	result, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("unable parse %q as duration. Err: %w", value, err)
	}
	return result, nil
}

// ParseList splits a comma separated value and drops empty items.
func ParseList(value string) []string {
	result := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// IntEnv reads an integer variable, falling back to the default when the value is malformed.
func IntEnv(variableName, defaultValue string) int {
	result, err := ParseInt(Env(variableName, defaultValue))
	if err != nil {
		log.Printf("[%s]: %s. Use default %s", variableName, err, defaultValue)
		result, _ = ParseInt(defaultValue)
	}
	return result
}

func DurationEnv(variableName, defaultValue string) time.Duration {
	result, err := ParseDuration(Env(variableName, defaultValue))
	if err != nil {
		log.Printf("[%s]: %s. Use default %s", variableName, err, defaultValue)
		result, _ = ParseDuration(defaultValue)
	}
	return result
}
