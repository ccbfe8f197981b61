package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// InstanceID names one signaling process in a multi-instance deployment.
type InstanceID string

func NewInstanceID() InstanceID {
	return InstanceID("srv-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}
