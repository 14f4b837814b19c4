package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir follows the XDG state directory:
//   - $XDG_STATE_HOME/kbsearch/logs
//   - ~/.local/state/kbsearch/logs
//
// and falls back to the temp directory when there is no home.
func DefaultLogDir() string {
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, "kbsearch", "logs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "kbsearch", "logs")
	}
	return filepath.Join(home, ".local", "state", "kbsearch", "logs")
}

// DefaultLogPath is used when MCP mode has no configured log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "kbsearch.log")
}
