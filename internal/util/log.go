// Package util provides shared logging and traffic accounting.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Tagged prefixes every line with a connection tag, e.g. "[3:1] ".
type Tagged string

func (t Tagged) Debug(format string, args ...any) {
	LogDebug("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Info(format string, args ...any) {
	LogInfo("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Warn(format string, args ...any) {
	LogWarning("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Error(format string, args ...any) {
	LogError("[%s] %s", string(t), fmt.Sprintf(format, args...))
}
