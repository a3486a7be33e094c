/*
Package seleniumpool hands out remote WebDriver endpoints to concurrently
running GUI test sessions and drives those sessions through a fault-tolerant
command executor.

Three strategies decide which endpoint a session gets:

	RoundRobinPool  configured URLs in order, shared, never blocks
	ExclusivePool   one session per URL, callers queue in FIFO order
	RemoteQueue     a remote prioritisation service grants shared slots

A LocalDriverPool starts a chromedriver, geckodriver or Selenium server on
this machine instead.

The Manager ties a strategy together with an optional pool of local
forwarding proxies and the executor package:

	cfg, err := config.Load("selenium.yaml")
	if err != nil {
		glog.Exit(err)
	}
	m, err := seleniumpool.NewManager(cfg)
	if err != nil {
		glog.Exit(err)
	}
	s, err := m.Open(ctx)
	if err != nil {
		glog.Exit(err)
	}
	defer m.Close(ctx, s)

	if _, err := s.Execute(ctx, "get", map[string]interface{}{"url": "http://play.golang.org"}); err != nil {
		glog.Error(err)
	}

Element lookup, DOM interaction and script execution are not modelled here;
they are plain named commands passed through Session.Execute.
*/
package seleniumpool
