package qsvm

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "qsvm",
})

// SetLogLevel adjusts the package logger, e.g. "debug", "info", "warn".
func SetLogLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	return nil
}

// SetLogOutput redirects the package logger.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}
