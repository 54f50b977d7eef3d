package cmd

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

var logFile io.Closer

func initLogger(config *LogConfig) error {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := parseLevel(config.Level)
	if err != nil {
		return err
	}

	var w io.Writer
	switch config.Output {
	case "", "stdout":
		w = consoleWriter(os.Stdout)
	case "stderr":
		w = consoleWriter(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			return err
		}
		logFile = file

		if !config.DisableStdout && isatty.IsTerminal(os.Stdout.Fd()) {
			w = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}, file)
		} else {
			w = file
		}
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
	log = &logger
	zerolog.DefaultContextLogger = log
	return nil
}

// consoleWriter writes human friendly logs on terminals,
// and json everywhere else.
func consoleWriter(f *os.File) io.Writer {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return zerolog.ConsoleWriter{Out: f, TimeFormat: time.DateTime}
	}
	return f
}

func closeLogger() {
	if logFile != nil {
		logFile.Close()
	}
}

func parseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(level)
}
