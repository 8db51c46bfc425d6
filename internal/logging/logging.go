// Package logging configures the console logger used by the server.
//
// The MCP transport speaks JSON-RPC over stdout; any stray writer output
// on stdout would corrupt the frame stream, so logging is console-on-stderr
// and kept at warn level by default.
package logging

import (
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
)

// New builds the server's logger. level follows arbor's level names
// ("debug", "info", "warn", "error"); an empty string defaults to "warn".
func New(level string) arbor.ILogger {
	if level == "" {
		level = "warn"
	}
	return arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString(level)
}
