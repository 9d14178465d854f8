package storage

import (
	"errors"
	"fmt"
	"time"

	"farmchat/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

func validateMessageType(messageType string) error {
	switch messageType {
	case models.MessageTypeText, models.MessageTypeAudio:
		return nil
	default:
		return fmt.Errorf("invalid message type %q", messageType)
	}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
