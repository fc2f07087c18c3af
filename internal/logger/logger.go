// Package logger is the operational log channel. The mission's own LogEntry
// stream is the user-visible record; this file logger carries loop traces
// and host diagnostics.
package logger

import (
	"io"
	"log"
	"os"
)

// Log discards until Init points it at a file, so library code may log
// unconditionally.
var Log = log.New(io.Discard, "", log.LstdFlags)

func Init(logFilePath string) error {
	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}

	Log = log.New(file, "", log.LstdFlags)
	Log.Println("Logger initialized.")
	return nil
}
