package drivers

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/tebeka/selenium"
)

// Kind identifies a driver executable and the command line it expects.
type Kind string

// The supported driver executables.
const (
	ChromeDriver    Kind = "chromedriver"
	GeckoDriver     Kind = "geckodriver"
	PhantomJSDriver Kind = "phantomjs"
	IEDriver        Kind = "IEDriverServer"
)

const (
	defaultStartupTimeout = 30 * time.Second
	statusInterval        = 100 * time.Millisecond
)

var newExecCommand = exec.Command

type serviceSettings struct {
	// lib is passed to the library's driver services.
	lib            []selenium.ServiceOption
	needsLib       bool
	output         io.Writer
	startupTimeout time.Duration
}

// ServiceOption configures a Service instance.
type ServiceOption func(*serviceSettings) error

// Display runs the driver on an existing X display. Only ChromeDriver and
// geckodriver support it.
func Display(d, xauthPath string) ServiceOption {
	return func(s *serviceSettings) error {
		s.lib = append(s.lib, selenium.Display(d, xauthPath))
		s.needsLib = true
		return nil
	}
}

// StartFrameBuffer starts an X virtual frame buffer for the driver, stopped
// with the service. Only ChromeDriver and geckodriver support it.
func StartFrameBuffer() ServiceOption {
	return func(s *serviceSettings) error {
		s.lib = append(s.lib, selenium.StartFrameBuffer())
		s.needsLib = true
		return nil
	}
}

// Output specifies that the driver should log to the provided writer.
func Output(w io.Writer) ServiceOption {
	return func(s *serviceSettings) error {
		s.lib = append(s.lib, selenium.Output(w))
		s.output = w
		return nil
	}
}

// StartupTimeout bounds how long PhantomJS or IEDriverServer may take to
// answer their status endpoint. The library gives ChromeDriver and
// geckodriver a fixed 30 seconds.
func StartupTimeout(d time.Duration) ServiceOption {
	return func(s *serviceSettings) error {
		if d <= 0 {
			return fmt.Errorf("startup timeout must be positive, got %v", d)
		}
		s.startupTimeout = d
		return nil
	}
}

func newServiceSettings(opts []ServiceOption) (*serviceSettings, error) {
	s := &serviceSettings{startupTimeout: defaultStartupTimeout}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Service controls a locally-running driver subprocess. ChromeDriver and
// geckodriver are run by the library; the other kinds are started here.
type Service struct {
	kind Kind
	port int
	addr string

	lib *selenium.Service
	cmd *exec.Cmd
}

// Addr is the WebDriver endpoint served by the driver.
func (s *Service) Addr() string {
	return s.addr
}

// Port is the TCP port the driver listens on.
func (s *Service) Port() int {
	return s.port
}

// FrameBuffer returns the FrameBuffer if one was started by the service and nil otherwise.
func (s *Service) FrameBuffer() *selenium.FrameBuffer {
	if s.lib == nil {
		return nil
	}
	return s.lib.FrameBuffer()
}

// commandLine returns the arguments and URL prefix of the drivers the library
// has no service for.
func commandLine(kind Kind, port int) (args []string, urlPrefix string, err error) {
	p := strconv.Itoa(port)
	switch kind {
	case PhantomJSDriver:
		return []string{"--webdriver=" + p}, "/wd/hub", nil
	case IEDriver:
		return []string{"/port=" + p}, "", nil
	}
	return nil, "", fmt.Errorf("unknown driver kind %q", kind)
}

// NewService starts the driver executable at path in the background and
// waits until it answers on port.
func NewService(kind Kind, path string, port int, opts ...ServiceOption) (*Service, error) {
	settings, err := newServiceSettings(opts)
	if err != nil {
		return nil, err
	}
	s := &Service{kind: kind, port: port}
	glog.Infof("Starting %s on port %d", kind, port)
	switch kind {
	case ChromeDriver:
		s.addr = fmt.Sprintf("http://localhost:%d/wd/hub", port)
		s.lib, err = selenium.NewChromeDriverService(path, port, settings.lib...)
	case GeckoDriver:
		s.addr = fmt.Sprintf("http://localhost:%d", port)
		s.lib, err = selenium.NewGeckoDriverService(path, port, settings.lib...)
	default:
		if settings.needsLib {
			return nil, fmt.Errorf("%s cannot run on an X display; use ChromeDriver or geckodriver", kind)
		}
		err = s.startProcess(path, settings)
	}
	if err != nil {
		return nil, fmt.Errorf("starting %s: %v", kind, err)
	}
	return s, nil
}

func (s *Service) startProcess(path string, settings *serviceSettings) error {
	args, urlPrefix, err := commandLine(s.kind, s.port)
	if err != nil {
		return err
	}
	s.addr = fmt.Sprintf("http://localhost:%d%s", s.port, urlPrefix)
	s.cmd = newExecCommand(path, args...)
	s.cmd.Stdout = settings.output
	s.cmd.Stderr = settings.output
	if err := s.cmd.Start(); err != nil {
		return err
	}

	deadline := time.Now().Add(settings.startupTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(statusInterval)
		resp, err := http.Get(s.addr + "/status")
		if err != nil {
			continue
		}
		resp.Body.Close()
		switch resp.StatusCode {
		// Older drivers answer Forbidden or BadRequest; current ones return OK.
		case http.StatusForbidden, http.StatusBadRequest, http.StatusOK:
			return nil
		}
	}
	s.cmd.Process.Kill()
	s.cmd.Wait()
	return fmt.Errorf("no response on port %d within %v", s.port, settings.startupTimeout)
}

// Stop shuts down the driver, and the X virtual frame buffer if one was
// started.
func (s *Service) Stop() error {
	glog.Infof("Stopping %s on port %d", s.kind, s.port)
	if s.lib != nil {
		return s.lib.Stop()
	}
	if err := s.cmd.Process.Kill(); err != nil {
		return err
	}
	if err := s.cmd.Wait(); err != nil && err.Error() != "signal: killed" {
		return err
	}
	return nil
}

// PickUnusedPort asks the kernel for a free TCP port on the loopback
// interface.
func PickUnusedPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}
