package sys

import (
	"os"
	"os/signal"
	"syscall"
)

// CreateShutdownChannel returns a channel that receives SIGINT or SIGTERM.
func CreateShutdownChannel() chan os.Signal {
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	return done
}
