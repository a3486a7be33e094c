// Package log provides logging-related configuration types and constants for
// browser sessions.
package log

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type represents a component capable of logging.
type Type string

// The valid log types.
const (
	Server      Type = "server"
	Browser     Type = "browser"
	Client      Type = "client"
	Driver      Type = "driver"
	Performance Type = "performance"
	Profiler    Type = "profiler"
)

// Level represents a logging level of different components in the browser,
// the driver, or any intermediary WebDriver servers.
type Level string

// The valid log levels.
const (
	Off     Level = "OFF"
	Severe  Level = "SEVERE"
	Warning Level = "WARNING"
	Info    Level = "INFO"
	Debug   Level = "DEBUG"
	All     Level = "ALL"
)

// ParseLevel maps the configuration names debug, info, warn and error, or
// any of the Level constants, to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn", "warning":
		return Warning, nil
	case "error", "severe":
		return Severe, nil
	case "off":
		return Off, nil
	case "all":
		return All, nil
	}
	return "", fmt.Errorf("unknown browser log level %q; use one of debug, info, warn, error", s)
}

// CapabilitiesKey is the key for the logging preferences entry in the JSON
// structure representing WebDriver capabilities.
//
// Starting with Chrome 75, "loggingPrefs" has been changed to
// "goog:loggingPrefs".
const CapabilitiesKey = "goog:loggingPrefs"

// LegacyCapabilitiesKey is read by Selenium 2 grids and older drivers.
const LegacyCapabilitiesKey = "loggingPrefs"

// Capabilities is the map to include in the WebDriver capabilities structure
// to configure logging.
type Capabilities map[Type]Level

// Message is a log message returned by the getLog command.
type Message struct {
	Timestamp time.Time
	Level     Level
	Message   string
}

// UnmarshalJSON decodes a log entry whose timestamp is given in milliseconds
// since the epoch.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp int64  `json:"timestamp"`
		Level     string `json:"level"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Timestamp = time.UnixMilli(raw.Timestamp)
	m.Level = Level(raw.Level)
	m.Message = raw.Message
	return nil
}
