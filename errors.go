package seleniumpool

import "errors"

var (
	// ErrNoEndpoints is returned by Acquire when the pool was configured
	// without any Selenium URLs.
	ErrNoEndpoints = &ConfigError{Msg: "no Selenium URLs configured; cannot retrieve Selenium service"}

	// ErrNoResource is returned by Manager.Open when the resource service did
	// not grant an endpoint, e.g. because the wait was cancelled or the remote
	// queue reported an error.
	ErrNoResource = errors.New("no Selenium resource available")
)

// ConfigError reports an invalid or incomplete configuration. It is returned
// when a component is constructed, never deferred to first use, with the
// single exception of an empty endpoint list.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
