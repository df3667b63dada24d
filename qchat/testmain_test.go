package qchat

import (
	"os"
	"testing"

	"github.com/marutaku/qchat-core/logger"
)

func TestMain(m *testing.M) {
	// Keep test runs from writing to the real log directory.
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}
