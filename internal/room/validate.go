package room

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxRoomIDLength      = 64
	MaxUserIDLength      = 64
	MaxDisplayNameLength = 32
)

func ValidateRoomID(roomID string) error {
	if strings.TrimSpace(roomID) == "" || len(roomID) > MaxRoomIDLength {
		return ErrInvalidRoomID
	}
	return nil
}

func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" || len(userID) > MaxUserIDLength {
		return ErrInvalidUserID
	}
	return nil
}

// SanitizeDisplayName drops control characters and cuts the name to MaxDisplayNameLength runes.
// An empty result falls back to the given default.
func SanitizeDisplayName(name, fallback string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		name = string([]rune(name)[:MaxDisplayNameLength])
	}
	return name
}
