package ws

import (
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/realtime"
)

// ErrorPayload is the data of an "error" frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

func errorFrame(channel, msg string) realtime.Frame {
	f, err := realtime.NewFrame(channel, realtime.EventError, ErrorPayload{Message: msg})
	if err != nil {
		logger.Errorf("ws error frame: %v", err)
	}
	return f
}

func subscribedFrame(channel string) realtime.Frame {
	return realtime.Frame{Event: realtime.EventSubscribed, Channel: channel}
}
