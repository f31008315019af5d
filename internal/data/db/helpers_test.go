package db

import (
	"testing"

	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

func testLogger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}
