// Package logging configures the process-wide logrus logger.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"socketrpc/config"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// Formatter renders one entry per line:
//
//	[2026-01-02 15:04:05] [svc.1.3] [info ] connection accepted conn=svc.1 addr=127.0.0.1:5123
//
// The bracketed id is the request id, or the connection id, when present.
type Formatter struct{}

// fieldOrder lists the fields printed first; the rest follow sorted by name.
var fieldOrder = []string{"service", "conn", "addr", "event", "reason", "type", "error"}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	id := "--------"
	if v, ok := entry.Data["request_id"].(string); ok && v != "" {
		id = v
	} else if v, ok := entry.Data["conn"].(string); ok && v != "" {
		id = v
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	fmt.Fprintf(buffer, "[%s] [%s] [%-5s] ", timestamp, id, level)
	if entry.HasCaller() {
		fmt.Fprintf(buffer, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(message)
	for _, k := range orderedKeys(entry.Data) {
		fmt.Fprintf(buffer, " %s=%v", k, entry.Data[k])
	}
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

func orderedKeys(data log.Fields) []string {
	seen := make(map[string]bool, len(data))
	keys := make([]string, 0, len(data))
	for _, k := range fieldOrder {
		if _, ok := data[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range data {
		if !seen[k] && k != "request_id" {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// Setup applies cfg to the standard logger. With a file configured, output
// goes to a size-rotated file instead of stderr. Safe to call again; the
// previous file is closed.
func Setup(cfg config.LoggingConfig) error {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return errors.Wrap(err, "logging level")
		}
		level = parsed
	}

	writerMu.Lock()
	defer writerMu.Unlock()

	var out io.Writer = os.Stderr
	if logWriter != nil {
		logWriter.Close()
		logWriter = nil
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return errors.Wrap(err, "create log directory")
		}
		logWriter = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = logWriter
	}

	log.SetOutput(out)
	log.SetLevel(level)
	log.SetReportCaller(cfg.ReportCaller)
	log.SetFormatter(&Formatter{})
	return nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	writerMu.Lock()
	defer writerMu.Unlock()
	if logWriter == nil {
		return nil
	}
	err := logWriter.Close()
	logWriter = nil
	log.SetOutput(os.Stderr)
	return err
}
