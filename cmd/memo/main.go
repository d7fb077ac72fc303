package main

import (
	"context"
	"os"

	"github.com/agentuity/memo/logger"
	"github.com/agentuity/memo/sys"
)

func main() {
	defer sys.RecoverPanic(logger.NewConsoleLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sys.CreateShutdownChannel()
		cancel()
	}()

	code := execute(ctx, newRootCommand())
	cancel()
	os.Exit(code)
}
