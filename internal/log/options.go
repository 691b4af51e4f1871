package log

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Options configures the logger.
type Options struct {
	Name          string   `json:"name,omitempty" mapstructure:"name"`
	Level         string   `json:"level,omitempty" mapstructure:"level"`
	Format        string   `json:"format,omitempty" mapstructure:"format"`
	EnableColor   bool     `json:"enable-color,omitempty" mapstructure:"enable-color"`
	DisableCaller bool     `json:"disable-caller,omitempty" mapstructure:"disable-caller"`
	CallerSkip    int      `json:"caller-skip,omitempty" mapstructure:"caller-skip"`
	OutputPaths   []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions returns console logging at info level.
func NewOptions() *Options {
	return &Options{
		Name:        "fueltheft",
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		// Skips the package-level helpers in log.go.
		CallerSkip:  2,
		OutputPaths: []string{"stdout"},
	}
}

// Validate reports option values zap cannot use.
func (o *Options) Validate() []error {
	var errs []error
	switch o.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'console', got %q", o.Format))
	}
	switch o.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug|info|warn|error, got %q", o.Level))
	}
	return errs
}

// AddFlags binds the options to fs under the "log." prefix.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "Logger name attached to every entry.")
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum log level (debug, info, warn, error).")
	fs.StringVar(&o.Format, "log.format", o.Format, "Log encoding ('json' or 'console').")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Colorize levels in console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit the caller file:line field.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "Number of caller frames to skip.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log sinks (stdout, stderr or file paths).")
}
