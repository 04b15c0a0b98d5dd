/*
Package fluentdynamo – logging interface.

Mapping and store components log through a four-level interface so
embedders can route lines into their own sink. The default prints info
and error through the standard library logger with the context rendered
as JSON; trace and data stay silent unless VerboseLogger is wired in.
*/
package fluentdynamo

import (
	"log"

	json "github.com/goccy/go-json"
)

// Logger is the interface callers may supply to Store or Mapper params.
// Each method receives a structured context map (may be nil).
type Logger interface {
	Trace(message string, ctx map[string]any)
	Info(message string, ctx map[string]any)
	Error(message string, ctx map[string]any)
	Data(message string, ctx map[string]any)
}

// NopLogger discards every line. Hand it to params to silence a component.
var NopLogger Logger = nopLogger{}

// VerboseLogger prints all four levels, trace and data included.
var VerboseLogger Logger = verboseLogger{}

// defaultLogger writes info/error to the standard library logger and silently
// drops trace/data.
type defaultLogger struct{}

func (defaultLogger) Trace(string, map[string]any) {}
func (defaultLogger) Data(string, map[string]any)  {}

func (defaultLogger) Info(msg string, ctx map[string]any) {
	logLine("INFO", msg, ctx)
}

func (defaultLogger) Error(msg string, ctx map[string]any) {
	logLine("ERROR", msg, ctx)
}

func logLine(level, msg string, ctx map[string]any) {
	if ctx == nil {
		log.Printf("[%s] %s", level, msg)
		return
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		log.Printf("[%s] %s %v", level, msg, ctx)
		return
	}
	log.Printf("[%s] %s %s", level, msg, b)
}

type verboseLogger struct{}

func (verboseLogger) Trace(msg string, ctx map[string]any) { logLine("TRACE", msg, ctx) }
func (verboseLogger) Data(msg string, ctx map[string]any)  { logLine("DATA", msg, ctx) }
func (verboseLogger) Info(msg string, ctx map[string]any)  { logLine("INFO", msg, ctx) }
func (verboseLogger) Error(msg string, ctx map[string]any) { logLine("ERROR", msg, ctx) }

// FuncLogger adapts a plain function to the Logger interface.
type FuncLogger struct {
	Fn func(level, message string, ctx map[string]any)
}

func (f FuncLogger) Trace(msg string, ctx map[string]any) { f.Fn("trace", msg, ctx) }
func (f FuncLogger) Data(msg string, ctx map[string]any)  { f.Fn("data", msg, ctx) }
func (f FuncLogger) Info(msg string, ctx map[string]any)  { f.Fn("info", msg, ctx) }
func (f FuncLogger) Error(msg string, ctx map[string]any) { f.Fn("error", msg, ctx) }

type nopLogger struct{}

func (nopLogger) Trace(string, map[string]any) {}
func (nopLogger) Data(string, map[string]any)  {}
func (nopLogger) Info(string, map[string]any)  {}
func (nopLogger) Error(string, map[string]any) {}

func logTrace(l Logger, msg string, ctx map[string]any) { l.Trace(msg, ctx) }
func logInfo(l Logger, msg string, ctx map[string]any)  { l.Info(msg, ctx) }
func logError(l Logger, msg string, ctx map[string]any) { l.Error(msg, ctx) }
