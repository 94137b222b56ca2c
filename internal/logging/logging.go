// Package logging configures the shared logrus instance.
//
// Stdout carries the MCP stdio protocol, so log output goes to stderr and,
// when a log file is configured, to a rotating file as well.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// Formatter renders entries as
// [2025-12-23 20:14:04] [info ] [coordinator.go:88] message attempt=... key=value
type Formatter struct{}

// Format implements log.Formatter.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&fields, " %s=%v", k, entry.Data[k])
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")
	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%-5s] [%s:%d] %s%s\n",
			timestamp, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fields.String())
	} else {
		fmt.Fprintf(buffer, "[%s] [%-5s] %s%s\n", timestamp, level, message, fields.String())
	}
	return buffer.Bytes(), nil
}

// Setup points the standard logger at stderr, plus logFile when set, at the
// given level.
func Setup(level, logFile string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	writerMu.Lock()
	defer writerMu.Unlock()

	log.SetLevel(lvl)
	log.SetReportCaller(true)
	log.SetFormatter(&Formatter{})

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}

	var out io.Writer = os.Stderr
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		logWriter = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 3,
		}
		out = io.MultiWriter(os.Stderr, logWriter)
	}
	log.SetOutput(out)
	log.RegisterExitHandler(Close)
	return nil
}

// Close flushes and closes the rotating log file, if any.
func Close() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	log.SetOutput(os.Stderr)
}

// Redact keeps a short prefix of a secret-ish value for correlation in logs.
func Redact(value string) string {
	if len(value) <= 6 {
		return strings.Repeat("*", len(value))
	}
	return value[:6] + "..."
}
