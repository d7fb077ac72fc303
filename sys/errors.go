package sys

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/agentuity/memo/logger"
	"github.com/cockroachdb/errors"
)

func panicError(depth int, r any) error {
	var err error
	switch v := r.(type) {
	case error:
		err = errors.WrapWithDepth(depth+1, v, "panic")
	default:
		err = errors.NewWithDepth(depth+1, fmt.Sprintf("panic: %v", v))
	}
	return err
}

// RecoverPanic logs a recovered panic with its stack and exits with code 1.
// It must be called directly by a deferred statement.
func RecoverPanic(log logger.Logger) {
	if r := recover(); r != nil {
		err := panicError(1, r)
		log.Error("%s\n%s", err, debug.Stack())
		os.Exit(1)
	}
}
