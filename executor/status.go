package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blang/semver"
)

// Status contains information returned by the status command.
type Status struct {
	// The following fields are used by Selenium and ChromeDriver.
	Java struct {
		Version string
	}
	Build struct {
		Version, Revision, Time string
	}
	OS struct {
		Arch, Name, Version string
	}

	// The following fields are specified by the W3C WebDriver specification and
	// are used by GeckoDriver.
	Ready   bool
	Message string
}

// Version parses the build version reported by the remote end. Versions such
// as "3.141.59" or "v2.45" are accepted.
func (s *Status) Version() (semver.Version, error) {
	if s.Build.Version == "" {
		return semver.Version{}, fmt.Errorf("remote end did not report a build version")
	}
	return semver.ParseTolerant(s.Build.Version)
}

// Status queries the remote end's status. No session is required.
func (e *Executor) Status(ctx context.Context) (*Status, error) {
	resp, err := e.Execute(ctx, &Command{Name: CommandStatus})
	if err != nil {
		return nil, err
	}
	status := new(Status)
	if len(resp.Raw) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(resp.Raw, status); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return status, nil
}
