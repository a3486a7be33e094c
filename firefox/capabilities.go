// Package firefox provides Firefox-specific types for WebDriver.
package firefox

// CapabilitiesKey is the name of the Firefox-specific key in the WebDriver
// capabilities object.
const CapabilitiesKey = "moz:firefoxOptions"

// Capabilities provides Firefox-specific options to geckodriver.
type Capabilities struct {
	// Binary is the absolute path of the Firefox binary. If left undefined,
	// geckodriver will attempt to deduce the default location of Firefox on
	// the current system.
	Binary string `json:"binary,omitempty"`
	// Args are the command line arguments to pass to the Firefox binary. These
	// must include the leading -- where required e.g. ["--devtools"].
	Args []string `json:"args,omitempty"`
	// Log specifies the logging options for Gecko.
	Log *Log `json:"log,omitempty"`
	// Map of preference name to preference value, which can be a string, a
	// boolean or an integer.
	Prefs map[string]interface{} `json:"prefs,omitempty"`
}

// LogLevel is an enum that defines logging levels for Firefox.
type LogLevel string

// Levels of logging that can be specified in the Log structure.
const (
	Trace  LogLevel = "trace"
	Debug  LogLevel = "debug"
	Config LogLevel = "config"
	Info   LogLevel = "info"
	Warn   LogLevel = "warn"
	Error  LogLevel = "error"
	Fatal  LogLevel = "fatal"
)

// Log specifies how Firefox should log debug data.
type Log struct {
	// Level is the verbosity level of logs that Firefox should output.
	Level LogLevel `json:"level"`
}

// SetLogLevel sets the Gecko log level from one of the configuration names
// "debug", "info", "warn" or "error". Unknown names are ignored.
func (c *Capabilities) SetLogLevel(name string) {
	switch l := LogLevel(name); l {
	case Trace, Debug, Config, Info, Warn, Error, Fatal:
		c.Log = &Log{Level: l}
	}
}
