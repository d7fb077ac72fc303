package sys

import (
	"testing"

	"github.com/agentuity/memo/logger"
	"github.com/stretchr/testify/assert"
)

func TestPanicError(t *testing.T) {
	err := assert.AnError
	result := panicError(1, err)
	assert.Error(t, result)
	assert.Contains(t, result.Error(), err.Error())
	assert.ErrorIs(t, result, err)

	result = panicError(1, "test panic")
	assert.Error(t, result)
	assert.Contains(t, result.Error(), "test panic")
}

func TestRecoverPanicWithoutPanic(t *testing.T) {
	log := logger.NewTestLogger()
	func() {
		defer RecoverPanic(log)
	}()
	assert.Empty(t, log.Entries())
}
