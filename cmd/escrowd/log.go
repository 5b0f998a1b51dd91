// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"escrowmarket.org/escrowd/escrow"
	"escrowmarket.org/escrowd/server/auth"
	"escrowmarket.org/escrowd/server/comms"
	"escrowmarket.org/escrowd/server/db"
	"escrowmarket.org/escrowd/server/market"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

// Write writes the data in p to standard out and the log rotator.
func (logWriter) Write(p []byte) (n int, err error) {
	if logRotator == nil {
		return os.Stdout.Write(p)
	}
	os.Stdout.Write(p)
	return logRotator.Write(p) // not safe concurrent writes, so only one logWriter{} allowed!
}

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it will write to the backend. When adding new
// subsystems, define it in the subsystemLoggers map.
//
// Loggers should not be used before the log rotator has been initialized with
// a log file. This must be performed early during application startup by
// calling initLogRotator.
var (
	// logRotator is one of the logging outputs. Use initLogRotator to set it.
	// It should be closed on application shutdown.
	logRotator *rotator.Rotator

	// package main's Logger.
	log = escrow.Disabled

	// subsystemLoggers maps each subsystem identifier to its associated
	// logger. The loggers are disabled until parseAndSetDebugLevels is called.
	subsystemLoggers = map[string]escrow.Logger{
		"MAIN": escrow.Disabled,
		"MKT":  escrow.Disabled,
		"LEDG": escrow.Disabled,
		"CUST": escrow.Disabled,
		"DB":   escrow.Disabled,
		"COMM": escrow.Disabled,
		"AUTH": escrow.Disabled,
	}
)

// setLogger routes the logger to the matching subsystem package. Unknown
// subsystems are ignored.
func setLogger(subsystemID string, logger escrow.Logger) {
	if _, ok := subsystemLoggers[subsystemID]; !ok {
		return
	}
	subsystemLoggers[subsystemID] = logger
	switch subsystemID {
	case "MAIN":
		log = logger
	case "MKT":
		market.UseLogger(logger)
	case "DB":
		db.UseLogger(logger)
	case "COMM":
		comms.UseLogger(logger)
	case "AUTH":
		auth.UseLogger(logger)
	}
}

// setAllLoggers applies loggers from the LoggerMaker to every registered
// subsystem at its configured level.
func setAllLoggers(lm *escrow.LoggerMaker) {
	for subsystemID := range subsystemLoggers {
		setLogger(subsystemID, lm.NewLogger(subsystemID, lm.Level(subsystemID)))
	}
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string, maxRolls int) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	logRotator, err = rotator.New(logFile, 32*1024, false, maxRolls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}
}
