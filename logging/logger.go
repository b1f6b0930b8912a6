package logging

import (
	"os"

	"github.com/phuslu/log"
)

func CreateDebugLogger() *log.Logger {
	return &log.Logger{
		Level:  log.DebugLevel,
		Caller: 0,
		Writer: &log.ConsoleWriter{
			ColorOutput:    false,
			EndWithMessage: true,
		},
	}
}

// CreateSilentLogger is meant for tests that exercise capacity pressure
// paths which would otherwise spam the console.
func CreateSilentLogger() *log.Logger {
	return &log.Logger{
		Level:  log.ErrorLevel,
		Caller: 0,
		Writer: &log.IOWriter{Writer: os.Stderr},
	}
}
