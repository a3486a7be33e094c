// Package chrome provides Chrome-specific options for WebDriver.
package chrome

import (
	"encoding/base64"
	"os"
)

// CapabilitiesKey is the key in the top-level Capabilities map under which
// ChromeDriver expects the Chrome-specific options to be set.
const CapabilitiesKey = "goog:chromeOptions"

// DeprecatedCapabilitiesKey is the legacy version of CapabilitiesKey, still
// read by Selenium 2 grids.
const DeprecatedCapabilitiesKey = "chromeOptions"

// DisableAutomationExtension is accepted among the browser arguments for
// compatibility with older configurations. Chrome has no such switch; it is
// translated into UseAutomationExtension=false.
const DisableAutomationExtension = "--disable-automation-extensions"

// Capabilities defines the Chrome-specific desired capabilities when using
// ChromeDriver. See
// https://sites.google.com/a/chromium.org/chromedriver/capabilities
type Capabilities struct {
	// Path is the file path to the Chrome binary to use.
	Path string `json:"binary,omitempty"`
	// Args are the command-line arguments to pass to the Chrome binary, in
	// addition to the ChromeDriver-supplied ones.
	Args []string `json:"args,omitempty"`
	// ExcludeSwitches are the command line flags that should be removed from
	// the ChromeDriver-supplied default flags, without the leading '--'.
	ExcludeSwitches []string `json:"excludeSwitches,omitempty"`
	// Extensions are the base-64, padded contents of .crx files to install at
	// startup.
	Extensions []string `json:"extensions,omitempty"`
	// Prefs are applied to the preferences of the user profile in use.
	Prefs map[string]interface{} `json:"prefs,omitempty"`
	// Detach, if true, keeps the browser running when ChromeDriver quits
	// without the session having been terminated.
	Detach *bool `json:"detach,omitempty"`
	// UseAutomationExtension controls the automation extension ChromeDriver
	// loads into the browser. It is an experimental option.
	UseAutomationExtension *bool `json:"useAutomationExtension,omitempty"`
	// Use W3C mode, if true.
	W3C bool `json:"w3c"`
}

// AddArgs appends browser arguments, translating
// DisableAutomationExtension.
func (c *Capabilities) AddArgs(args ...string) {
	for _, a := range args {
		if a == DisableAutomationExtension {
			off := false
			c.UseAutomationExtension = &off
			continue
		}
		c.Args = append(c.Args, a)
	}
}

// AddExtension adds the packed extension (.crx) at path. The whole file is
// loaded into memory, as required by the protocol.
func (c *Capabilities) AddExtension(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c.Extensions = append(c.Extensions, base64.StdEncoding.EncodeToString(data))
	return nil
}
