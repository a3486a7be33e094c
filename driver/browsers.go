package driver

import "github.com/wanmail/seleniumpool/chrome"

// PhantomJSArgsKey is the capability holding PhantomJS command-line
// arguments.
const PhantomJSArgsKey = "phantomjs.cli.args"

// phantomJSDefaultArgs relax PhantomJS's TLS and same-origin checks, which
// test environments with self-signed certificates need.
var phantomJSDefaultArgs = []string{"--web-security=no", "--ssl-protocol=any", "--ignore-ssl-errors=yes"}

func plain(browserName string) func() Capabilities {
	return func() Capabilities {
		return Capabilities{"browserName": browserName}
	}
}

func firefoxCaps() Capabilities {
	return Capabilities{"browserName": "firefox"}
}

func firefoxArgs(c Capabilities, s Settings) Capabilities {
	if len(s.Args) == 0 {
		return c
	}
	f, _ := c.Firefox()
	f.Args = append(append([]string(nil), f.Args...), s.Args...)
	c.AddFirefox(f)
	return c
}

func htmlUnitCaps() Capabilities {
	// The remote end only picks HtmlUnit's JavaScript support for a known
	// browser name.
	return Capabilities{
		"browserName":       "chrome",
		"javascriptEnabled": true,
	}
}

func chromeCaps() Capabilities {
	c := Capabilities{"browserName": "chrome"}
	c.AddChrome(chrome.Capabilities{})
	return c
}

func chromeArgs(c Capabilities, s Settings) Capabilities {
	if len(s.Args) == 0 {
		return c
	}
	f, _ := c.Chrome()
	f.Args = append([]string(nil), f.Args...)
	f.AddArgs(s.Args...)
	c.AddChrome(f)
	return c
}

func phantomJSCaps() Capabilities {
	return Capabilities{
		"browserName":       "phantomjs",
		"javascriptEnabled": true,
		"takesScreenshot":   true,
		PhantomJSArgsKey:    append([]string(nil), phantomJSDefaultArgs...),
	}
}

func phantomJSArgs(c Capabilities, s Settings) Capabilities {
	if len(s.Args) == 0 {
		return c
	}
	args, _ := c[PhantomJSArgsKey].([]string)
	c[PhantomJSArgsKey] = append(append([]string(nil), args...), s.Args...)
	return c
}
