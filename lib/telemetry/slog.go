package telemetry

import (
	"io"
	"log/slog"
	"os"
)

// InitSlog installs the default logger. Records go to stderr and, when
// logFile is set, are appended to it as well. The returned closer releases
// the log file.
func InitSlog(verbose bool, logFile string) (io.Closer, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
