package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/golem-market/provideragent/internal/deadline"
	"github.com/golem-market/provideragent/internal/matcher"
	"github.com/golem-market/provideragent/internal/payments"
	"github.com/golem-market/provideragent/internal/store"
	"github.com/jrick/logrotate/rotator"
)

// logWriter multiplexes log output to stdout and, once initLogRotator has
// run, to the rotating log file. Mirrors the teacher daemon's LogWriter.
type logWriter struct {
	rotatorPipe *io.PipeWriter
}

func (w *logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.rotatorPipe != nil {
		return w.rotatorPipe.Write(p)
	}
	return len(p), nil
}

var writer = &logWriter{}

var backendLog = btclog.NewBackend(writer)

// Per-subsystem loggers, following the teacher daemon's one-subLogger-per-
// package convention (see daemon/log.go).
var (
	pmtsLog = backendLog.Logger("PMTS")
	mtchLog = backendLog.Logger("MTCH")
	storLog = backendLog.Logger("STOR")
	dlnLog  = backendLog.Logger("DLN")
	rpcsLog = backendLog.Logger("RPCS")

	log = rpcsLog

	subsystemLoggers = map[string]btclog.Logger{
		"PMTS": pmtsLog,
		"MTCH": mtchLog,
		"STOR": storLog,
		"DLN":  dlnLog,
		"RPCS": rpcsLog,
	}
)

func init() {
	payments.UseLogger(pmtsLog)
	matcher.UseLogger(mtchLog)
	store.UseLogger(storLog)
	deadline.UseLogger(dlnLog)
}

// setLogLevels applies levelStr to every subsystem logger.
func setLogLevels(levelStr string) {
	level, _ := btclog.LevelFromString(levelStr)
	for _, l := range subsystemLoggers {
		l.SetLevel(level)
	}
}

var logRotator *rotator.Rotator

// initLogRotator starts writing logs to logFile, rolling over once it
// exceeds maxFileSizeKB kilobytes, keeping maxFiles rolled copies.
func initLogRotator(logFile string, maxFileSizeKB, maxFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	r, err := rotator.New(logFile, int64(maxFileSizeKB), false, maxFiles)
	if err != nil {
		return fmt.Errorf("create log rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	writer.rotatorPipe = pw
	logRotator = r
	return nil
}
