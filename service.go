package seleniumpool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

// newExecCommand is replaced in tests.
var newExecCommand = exec.Command

// statusPollInterval is how often a starting service is asked for its status.
var statusPollInterval = 250 * time.Millisecond

// DefaultStartupTimeout bounds how long a service may take to answer its
// status endpoint after it was started.
const DefaultStartupTimeout = 30 * time.Second

// ServiceOption configures a Service instance.
type ServiceOption func(*Service) error

// Display specifies the value to which set the DISPLAY environment variable,
// as well as the path to the Xauthority file containing credentials needed to
// write to that X server.
func Display(d, xauthPath string) ServiceOption {
	return func(s *Service) error {
		if s.display != "" {
			return fmt.Errorf("service display already set: %v", s.display)
		}
		if s.xauthPath != "" {
			return fmt.Errorf("service xauth path already set: %v", s.xauthPath)
		}
		if !isDisplay(d) {
			return fmt.Errorf("supplied display %q must be of the format 'x' or 'x.y' where x and y are integers", d)
		}
		s.display = d
		s.xauthPath = xauthPath
		return nil
	}
}

// isDisplay validates that the given disp is in the format "x" or "x.y", where
// x and y are both integers.
func isDisplay(disp string) bool {
	ds := strings.Split(disp, ".")
	if len(ds) > 2 {
		return false
	}
	for _, d := range ds {
		if _, err := strconv.Atoi(d); err != nil {
			return false
		}
	}
	return true
}

// StartFrameBuffer causes an X virtual frame buffer to start before the
// driver service. The frame buffer is stopped together with the service.
func StartFrameBuffer() ServiceOption {
	return StartFrameBufferWithOptions(FrameBufferOptions{})
}

// FrameBufferOptions describes the options that can be used to create a frame buffer.
type FrameBufferOptions struct {
	// ScreenSize is of the form "{width}x{height}[x{depth}]", for example
	// "1024x768x24".
	ScreenSize string
}

// StartFrameBufferWithOptions is like StartFrameBuffer with options.
func StartFrameBufferWithOptions(options FrameBufferOptions) ServiceOption {
	return func(s *Service) error {
		if s.display != "" {
			return fmt.Errorf("service display already set: %v", s.display)
		}
		if s.xauthPath != "" {
			return fmt.Errorf("service xauth path already set: %v", s.xauthPath)
		}
		if s.xvfb != nil {
			return fmt.Errorf("service Xvfb instance already running")
		}
		fb, err := NewFrameBufferWithOptions(options)
		if err != nil {
			return fmt.Errorf("error starting frame buffer: %v", err)
		}
		s.xvfb = fb
		return Display(fb.Display, fb.AuthPath)(s)
	}
}

// Output specifies that the driver service should log to the provided
// writer.
func Output(w io.Writer) ServiceOption {
	return func(s *Service) error {
		s.output = w
		return nil
	}
}

// GeckoDriver sets the path to the geckodriver binary for the Selenium
// server. It is only useful with NewSeleniumService.
func GeckoDriver(path string) ServiceOption {
	return func(s *Service) error {
		s.geckoDriverPath = path
		return nil
	}
}

// ChromeDriver sets the path to the chromedriver binary for the Selenium
// server. It is only useful with NewSeleniumService.
func ChromeDriver(path string) ServiceOption {
	return func(s *Service) error {
		s.chromeDriverPath = path
		return nil
	}
}

// JavaPath specifies the path to the JRE.
func JavaPath(path string) ServiceOption {
	return func(s *Service) error {
		s.javaPath = path
		return nil
	}
}

// StartupTimeout overrides DefaultStartupTimeout.
func StartupTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d <= 0 {
			return fmt.Errorf("startup timeout must be positive, got %v", d)
		}
		s.startupTimeout = d
		return nil
	}
}

// Service controls a locally running driver subprocess.
type Service struct {
	port            int
	addr            string
	cmd             *exec.Cmd
	shutdownURLPath string
	startupTimeout  time.Duration

	display, xauthPath string
	xvfb               *FrameBuffer

	geckoDriverPath, javaPath string
	chromeDriverPath          string

	output io.Writer
}

// FrameBuffer returns the FrameBuffer if one was started by the service and nil otherwise.
func (s *Service) FrameBuffer() *FrameBuffer {
	return s.xvfb
}

// Addr returns the WebDriver URL of the service.
func (s *Service) Addr() string {
	return s.addr
}

// Port returns the local port the service listens on.
func (s *Service) Port() int {
	return s.port
}

// NewSeleniumService starts a Selenium server from jarPath in the background.
func NewSeleniumService(ctx context.Context, jarPath string, port int, opts ...ServiceOption) (*Service, error) {
	s, err := newService(newExecCommand("java"), "/wd/hub", port, opts...)
	if err != nil {
		return nil, err
	}
	if s.javaPath != "" {
		s.cmd.Path = s.javaPath
	}
	if s.geckoDriverPath != "" {
		s.cmd.Args = append(s.cmd.Args, "-Dwebdriver.gecko.driver="+s.geckoDriverPath)
	}
	if s.chromeDriverPath != "" {
		s.cmd.Args = append(s.cmd.Args, "-Dwebdriver.chrome.driver="+s.chromeDriverPath)
	}
	s.cmd.Args = append(s.cmd.Args, "-cp", jarPath, "org.openqa.grid.selenium.GridLauncherV3", "-port", strconv.Itoa(port))

	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewChromeDriverService starts a ChromeDriver instance in the background.
func NewChromeDriverService(ctx context.Context, path string, port int, opts ...ServiceOption) (*Service, error) {
	cmd := newExecCommand(path, "--port="+strconv.Itoa(port), "--url-base=wd/hub", "--verbose")
	s, err := newService(cmd, "/wd/hub", port, opts...)
	if err != nil {
		return nil, err
	}
	s.shutdownURLPath = "/shutdown"
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewGeckoDriverService starts a GeckoDriver instance in the background.
func NewGeckoDriverService(ctx context.Context, path string, port int, opts ...ServiceOption) (*Service, error) {
	cmd := newExecCommand(path, "--port", strconv.Itoa(port))
	s, err := newService(cmd, "", port, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newService(cmd *exec.Cmd, urlPrefix string, port int, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		port:           port,
		addr:           fmt.Sprintf("http://localhost:%d%s", port, urlPrefix),
		startupTimeout: DefaultStartupTimeout,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.stopFrameBuffer()
			return nil, err
		}
	}
	cmd.Stderr = s.output
	cmd.Stdout = s.output
	cmd.Env = append(cmd.Env, os.Environ()...)
	if s.display != "" {
		cmd.Env = append(cmd.Env, "DISPLAY=:"+s.display)
	}
	if s.xauthPath != "" {
		cmd.Env = append(cmd.Env, "XAUTHORITY="+s.xauthPath)
	}
	s.cmd = cmd
	return s, nil
}

// start runs the process and waits until it answers its status endpoint.
func (s *Service) start(ctx context.Context) error {
	if err := s.cmd.Start(); err != nil {
		s.stopFrameBuffer()
		return err
	}
	glog.Infof("service: started %s (pid %d), waiting for %s", s.cmd.Path, s.cmd.Process.Pid, s.addr)

	ctx, cancel := context.WithTimeout(ctx, s.startupTimeout)
	defer cancel()
	client := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.kill()
			return fmt.Errorf("server did not respond on port %d: %w", s.port, ctx.Err())
		}
		if s.ready(ctx, client) {
			return nil
		}
	}
}

func (s *Service) ready(ctx context.Context, client *http.Client) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.addr+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		glog.V(2).Infof("service: %s not ready: %v", s.addr, err)
		return false
	}
	resp.Body.Close()
	switch resp.StatusCode {
	// Selenium <3 returned Forbidden and BadRequest. ChromeDriver and
	// Selenium 3 return OK.
	case http.StatusForbidden, http.StatusBadRequest, http.StatusOK:
		return true
	}
	return false
}

func (s *Service) kill() {
	if err := s.cmd.Process.Kill(); err != nil {
		glog.Warningf("service: killing %s: %v", s.cmd.Path, err)
	}
	s.cmd.Wait()
	s.stopFrameBuffer()
}

func (s *Service) stopFrameBuffer() {
	if s.xvfb == nil {
		return
	}
	if err := s.xvfb.Stop(); err != nil {
		glog.Warningf("service: stopping frame buffer: %v", err)
	}
	s.xvfb = nil
}

// Stop shuts down the driver service, and the X virtual frame buffer if one
// was started.
func (s *Service) Stop() error {
	// Selenium 3 stopped supporting the shutdown URL by default.
	// https://github.com/SeleniumHQ/selenium/issues/2852
	if s.shutdownURLPath == "" {
		if err := s.cmd.Process.Kill(); err != nil {
			return err
		}
	} else {
		resp, err := http.Get(s.addr + s.shutdownURLPath)
		if err != nil {
			return err
		}
		resp.Body.Close()
	}
	if err := s.cmd.Wait(); err != nil && err.Error() != "signal: killed" {
		return err
	}
	if s.xvfb != nil {
		err := s.xvfb.Stop()
		s.xvfb = nil
		return err
	}
	return nil
}

// freePort asks the kernel for an unused local TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FrameBuffer controls an X virtual frame buffer running as a background
// process.
type FrameBuffer struct {
	// Display is the X11 display number that the Xvfb process is hosting
	// (without the preceding colon).
	Display string
	// AuthPath is the path to the X11 authorization file that permits X clients
	// to use the X server. This is typically provided to the client via the
	// XAUTHORITY environment variable.
	AuthPath string

	cmd *exec.Cmd
}

var screenSizeExpression = regexp.MustCompile(`^\d+x\d+(?:x\d+)?$`)

// NewFrameBuffer starts an X virtual frame buffer running in the background.
func NewFrameBuffer() (*FrameBuffer, error) {
	return NewFrameBufferWithOptions(FrameBufferOptions{})
}

// NewFrameBufferWithOptions starts an X virtual frame buffer running in the
// background.
func NewFrameBufferWithOptions(options FrameBufferOptions) (*FrameBuffer, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	auth, err := os.CreateTemp("", "selenium-xvfb")
	if err != nil {
		return nil, err
	}
	authPath := auth.Name()
	if err := auth.Close(); err != nil {
		return nil, err
	}

	// Xvfb will print the display on which it is listening to file descriptor 3,
	// for which we provide a pipe.
	arguments := []string{"-displayfd", "3", "-nolisten", "tcp"}
	if options.ScreenSize != "" {
		if !screenSizeExpression.MatchString(options.ScreenSize) {
			return nil, fmt.Errorf("invalid screen size: expected 'WxH[xD]', got %q", options.ScreenSize)
		}
		arguments = append(arguments, "-screen", "0", options.ScreenSize)
	}
	xvfb := newExecCommand("Xvfb", arguments...)
	xvfb.ExtraFiles = []*os.File{w}
	xvfb.Env = append(xvfb.Env, "XAUTHORITY="+authPath)
	if err := xvfb.Start(); err != nil {
		return nil, err
	}
	w.Close()

	type resp struct {
		display string
		err     error
	}
	ch := make(chan resp, 1)
	go func() {
		bufr := bufio.NewReader(r)
		s, err := bufr.ReadString('\n')
		ch <- resp{s, err}
	}()

	var display string
	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, resp.err
		}
		display = strings.TrimSpace(resp.display)
		if _, err := strconv.Atoi(display); err != nil {
			return nil, errors.New("Xvfb did not print the display number")
		}
	case <-time.After(3 * time.Second):
		return nil, errors.New("timeout waiting for Xvfb")
	}

	xauth := newExecCommand("xauth", "generate", ":"+display, ".", "trusted")
	xauth.Stderr = os.Stderr
	xauth.Stdout = os.Stdout
	xauth.Env = append(xauth.Env, "XAUTHORITY="+authPath)
	if err := xauth.Run(); err != nil {
		return nil, err
	}

	glog.Infof("frame buffer: Xvfb is serving display :%s", display)
	return &FrameBuffer{display, authPath, xvfb}, nil
}

// Stop kills the background frame buffer process and removes the X
// authorization file.
func (f FrameBuffer) Stop() error {
	if err := f.cmd.Process.Kill(); err != nil {
		return err
	}
	os.Remove(f.AuthPath) // best effort removal; ignore error
	if err := f.cmd.Wait(); err != nil && err.Error() != "signal: killed" {
		return err
	}
	return nil
}
