package executor

import (
	"fmt"
	"net/url"
	"strings"
)

// Commands with special session handling.
const (
	CommandNewSession     = "newSession"
	CommandStatus         = "status"
	CommandGetAllSessions = "getAllSessions"
	CommandQuit           = "quit"
)

type commandInfo struct {
	method string
	// path is relative to the remote end and may contain placeholders such as
	// ":sessionId" or ":id" that are filled from the command.
	path string
}

// commands maps command names to their wire encoding under the JSON wire
// protocol as served by Selenium 2 and 3.
var commands = map[string]commandInfo{
	CommandNewSession:     {"POST", "/session"},
	CommandStatus:         {"GET", "/status"},
	CommandGetAllSessions: {"GET", "/sessions"},
	CommandQuit:           {"DELETE", "/session/:sessionId"},

	"getCapabilities":  {"GET", "/session/:sessionId"},
	"setTimeout":       {"POST", "/session/:sessionId/timeouts"},
	"setScriptTimeout": {"POST", "/session/:sessionId/timeouts/async_script"},
	"implicitlyWait":   {"POST", "/session/:sessionId/timeouts/implicit_wait"},

	"get":           {"POST", "/session/:sessionId/url"},
	"getCurrentUrl": {"GET", "/session/:sessionId/url"},
	"goBack":        {"POST", "/session/:sessionId/back"},
	"goForward":     {"POST", "/session/:sessionId/forward"},
	"refresh":       {"POST", "/session/:sessionId/refresh"},
	"getTitle":      {"GET", "/session/:sessionId/title"},
	"getPageSource": {"GET", "/session/:sessionId/source"},
	"screenshot":    {"GET", "/session/:sessionId/screenshot"},

	"getCurrentWindowHandle": {"GET", "/session/:sessionId/window_handle"},
	"getWindowHandles":       {"GET", "/session/:sessionId/window_handles"},
	"switchToWindow":         {"POST", "/session/:sessionId/window"},
	"close":                  {"DELETE", "/session/:sessionId/window"},
	"maximizeWindow":         {"POST", "/session/:sessionId/window/:windowHandle/maximize"},
	"setWindowSize":          {"POST", "/session/:sessionId/window/:windowHandle/size"},
	"getWindowSize":          {"GET", "/session/:sessionId/window/:windowHandle/size"},
	"switchToFrame":          {"POST", "/session/:sessionId/frame"},

	"executeScript":      {"POST", "/session/:sessionId/execute"},
	"executeAsyncScript": {"POST", "/session/:sessionId/execute_async"},

	"findElement":                  {"POST", "/session/:sessionId/element"},
	"findElements":                 {"POST", "/session/:sessionId/elements"},
	"getActiveElement":             {"POST", "/session/:sessionId/element/active"},
	"findChildElement":             {"POST", "/session/:sessionId/element/:id/element"},
	"findChildElements":            {"POST", "/session/:sessionId/element/:id/elements"},
	"clickElement":                 {"POST", "/session/:sessionId/element/:id/click"},
	"submitElement":                {"POST", "/session/:sessionId/element/:id/submit"},
	"clearElement":                 {"POST", "/session/:sessionId/element/:id/clear"},
	"sendKeysToElement":            {"POST", "/session/:sessionId/element/:id/value"},
	"getElementText":               {"GET", "/session/:sessionId/element/:id/text"},
	"getElementTagName":            {"GET", "/session/:sessionId/element/:id/name"},
	"getElementAttribute":          {"GET", "/session/:sessionId/element/:id/attribute/:name"},
	"getElementValueOfCssProperty": {"GET", "/session/:sessionId/element/:id/css/:propertyName"},
	"isElementSelected":            {"GET", "/session/:sessionId/element/:id/selected"},
	"isElementEnabled":             {"GET", "/session/:sessionId/element/:id/enabled"},
	"isElementDisplayed":           {"GET", "/session/:sessionId/element/:id/displayed"},
	"getElementLocation":           {"GET", "/session/:sessionId/element/:id/location"},
	"getElementSize":               {"GET", "/session/:sessionId/element/:id/size"},

	"getAllCookies":    {"GET", "/session/:sessionId/cookie"},
	"addCookie":        {"POST", "/session/:sessionId/cookie"},
	"deleteAllCookies": {"DELETE", "/session/:sessionId/cookie"},
	"deleteCookie":     {"DELETE", "/session/:sessionId/cookie/:name"},

	"acceptAlert":   {"POST", "/session/:sessionId/accept_alert"},
	"dismissAlert":  {"POST", "/session/:sessionId/dismiss_alert"},
	"getAlertText":  {"GET", "/session/:sessionId/alert_text"},
	"setAlertValue": {"POST", "/session/:sessionId/alert_text"},

	"sendKeysToActiveElement": {"POST", "/session/:sessionId/keys"},
	"mouseMoveTo":             {"POST", "/session/:sessionId/moveto"},
	"mouseClick":              {"POST", "/session/:sessionId/click"},
	"mouseDoubleClick":        {"POST", "/session/:sessionId/doubleclick"},
	"mouseButtonDown":         {"POST", "/session/:sessionId/buttondown"},
	"mouseButtonUp":           {"POST", "/session/:sessionId/buttonup"},

	"getLog":               {"POST", "/session/:sessionId/log"},
	"getAvailableLogTypes": {"GET", "/session/:sessionId/log/types"},
}

// Supported reports whether name is a known command.
func Supported(name string) bool {
	_, ok := commands[name]
	return ok
}

// needsSession reports whether name may only be sent within a session.
func needsSession(name string) bool {
	switch name {
	case CommandNewSession, CommandStatus, CommandGetAllSessions:
		return false
	}
	return true
}

// encode resolves the method and path of cmd. Path parameters are taken out
// of the returned parameter map; what remains forms the request body.
func encode(cmd *Command) (method, path string, body map[string]interface{}, err error) {
	info, ok := commands[cmd.Name]
	if !ok {
		return "", "", nil, &UnsupportedCommandError{Command: cmd.Name}
	}

	body = make(map[string]interface{}, len(cmd.Params))
	for k, v := range cmd.Params {
		body[k] = v
	}

	parts := strings.Split(info.path, "/")
	for i, part := range parts {
		if !strings.HasPrefix(part, ":") {
			continue
		}
		key := part[1:]
		var val string
		if key == "sessionId" {
			val = cmd.SessionID
		} else {
			v, ok := body[key]
			if !ok {
				return "", "", nil, fmt.Errorf("command %q is missing path parameter %q", cmd.Name, key)
			}
			delete(body, key)
			val = fmt.Sprint(v)
		}
		parts[i] = url.PathEscape(val)
	}
	return info.method, strings.Join(parts, "/"), body, nil
}
