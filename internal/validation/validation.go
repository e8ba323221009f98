// Package validation checks inbound chat input before it reaches the cloud
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validation settings
const (
	// DefaultMaxDuration is the longest voice message accepted
	DefaultMaxDuration = 30 * time.Second

	// MaxAudioSize bounds downloaded audio; Telegram bots cannot fetch more
	MaxAudioSize = 20 << 20

	// FolderIDLength is the length of a cloud folder identifier
	FolderIDLength = 20
)

// folder identifiers are lowercase alphanumerics starting with a letter
var folderIDRegex = regexp.MustCompile(fmt.Sprintf("^[a-z][a-z0-9]{%d}$", FolderIDLength-1))

// ValidationError represents rejected input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateAudio checks the declared duration and size of an audio message.
// A zero max disables the duration check.
func ValidateAudio(duration, max time.Duration, size int64) error {
	if duration < 0 {
		return &ValidationError{Field: "duration", Message: "must not be negative"}
	}
	if max > 0 && duration > max {
		return &ValidationError{
			Field:   "duration",
			Message: fmt.Sprintf("%s exceeds the limit of %s", duration, max),
		}
	}
	if size > MaxAudioSize {
		return &ValidationError{
			Field:   "size",
			Message: fmt.Sprintf("%d bytes exceeds the limit of %d bytes", size, MaxAudioSize),
		}
	}
	return nil
}

// ValidateFolderID checks the shape of a folder identifier
func ValidateFolderID(id string) error {
	id = strings.TrimSpace(id)
	if len(id) != FolderIDLength {
		return &ValidationError{
			Field:   "folder id",
			Message: fmt.Sprintf("length must be %d characters", FolderIDLength),
		}
	}
	if !folderIDRegex.MatchString(id) {
		return &ValidationError{
			Field:   "folder id",
			Message: "must be lowercase letters and digits starting with a letter",
		}
	}
	return nil
}

// Allowlist is the set of chats the bot serves. The zero value and an
// empty list serve none.
type Allowlist struct {
	chats map[int64]struct{}
	all   bool
}

// NewAllowlist builds an allowlist from chat ids
func NewAllowlist(ids []int64) Allowlist {
	chats := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		chats[id] = struct{}{}
	}
	return Allowlist{chats: chats}
}

// AllChats serves every chat
func AllChats() Allowlist {
	return Allowlist{all: true}
}

// Permits reports whether chatID may use the bot
func (a Allowlist) Permits(chatID int64) bool {
	if a.all {
		return true
	}
	_, ok := a.chats[chatID]
	return ok
}

// Empty reports whether the allowlist serves no chat at all
func (a Allowlist) Empty() bool {
	return !a.all && len(a.chats) == 0
}
