// Package ui renders search results for the terminal: styled output when
// stdout is a terminal, plain text for pipes and CI, and an interactive
// search prompt.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Config decides how output is rendered.
type Config struct {
	Output io.Writer
	// ForcePlain is set by --plain.
	ForcePlain bool
	// NoColor is set from NO_COLOR and TERM=dumb.
	NoColor bool
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor overrides the environment's color preference.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// NewConfig reads the color preference from the environment, then applies opts.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output, NoColor: DetectNoColor()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Styled reports whether output should carry ANSI styling: only on an
// interactive terminal outside CI, with colors allowed.
func (c Config) Styled() bool {
	return !c.ForcePlain && !c.NoColor && IsTTY(c.Output) && !DetectCI()
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectNoColor reports NO_COLOR (any value) or a dumb terminal.
func DetectNoColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return os.Getenv("TERM") == "dumb"
}

// ciEnv are variables set by common CI runners.
var ciEnv = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL"}

// DetectCI reports whether a CI runner is detected.
func DetectCI() bool {
	for _, v := range ciEnv {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
