package serviceutil

import (
	"errors"
	"log/slog"
	"os"
)

// Fatal logs a configuration or startup failure and exits. Nothing past
// startup should reach this.
func Fatal(message string, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}
