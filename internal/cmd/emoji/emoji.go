// Package emoji provides symbol constants for CLI output.
// These symbols create a consistent visual language across all commands.
package emoji

// Symbol constants for status lines printed to the terminal.
const (
	// Success marks a completed pass or a valid file.
	Success = "✓"

	// Error marks a failed pass or an invalid file.
	Error = "✗"

	// Stop marks a shutdown in progress.
	Stop = "■"

	// Warning marks a non-fatal problem, such as a disabled collection.
	Warning = "!"

	// Info marks informational lines.
	Info = "i"
)
