// Package logging configures structured slog output for kbsearch.
//
// Logs are JSON lines written to a size-rotated file (logging.file, or the
// XDG state directory in MCP mode) and, unless running as an MCP stdio
// server, mirrored to stderr.
package logging
