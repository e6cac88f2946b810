package logger

import (
	"fmt"
	"strings"
)

// Adapter can be used as an adapter for logging from other frameworks/libraries.
// Just keep adding the required methods to make it function.
type Adapter Logger

// Log satisfies the Datadog tracer logger.
func (log *Adapter) Log(msg string) {
	if log == nil {
		return
	}
	(*Logger)(log).Info(msg)
}

// Errorf, Warnf and Debugf satisfy the resty logger.
func (log *Adapter) Errorf(format string, v ...any) {
	if log == nil {
		return
	}
	(*Logger)(log).Error(trimf(format, v...))
}

func (log *Adapter) Warnf(format string, v ...any) {
	if log == nil {
		return
	}
	(*Logger)(log).Warn(trimf(format, v...))
}

func (log *Adapter) Debugf(format string, v ...any) {
	if log == nil {
		return
	}
	(*Logger)(log).Debug(trimf(format, v...))
}

// Println satisfies the gorilla handlers recovery logger.
func (log *Adapter) Println(v ...any) {
	if log == nil {
		return
	}
	(*Logger)(log).Error(strings.TrimSpace(fmt.Sprintln(v...)))
}

func trimf(format string, v ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, v...))
}
