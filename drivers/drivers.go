package drivers

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/firefox"
	"github.com/tebeka/selenium/sauce"

	"github.com/wanmail/regress/config"
)

// newRemote is replaced in tests.
var newRemote = selenium.NewRemote

// Session is a WebDriver session, together with the local driver process
// serving it when there is one.
type Session struct {
	selenium.WebDriver
	service *Service
}

// Service returns the driver process backing the session, or nil for remote
// sessions.
func (s *Session) Service() *Service {
	return s.service
}

// Quit ends the browser session and stops the driver process.
func (s *Session) Quit() error {
	err := s.WebDriver.Quit()
	if s.service != nil {
		if serr := s.service.Stop(); err == nil {
			err = serr
		}
	}
	return err
}

type settings struct {
	driverPath     string
	driversDir     string
	caps           selenium.Capabilities
	proxy          *selenium.Proxy
	width, height  int
	serviceOptions []ServiceOption
}

// Option configures a session before it is started.
type Option func(*settings) error

// DriverPath uses the driver executable at p instead of searching for it.
func DriverPath(p string) Option {
	return func(s *settings) error {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("driver path: %v", err)
		}
		s.driverPath = p
		return nil
	}
}

// DriversDir searches dir for the driver executable instead of the bundled
// driver directory. The PATH is still searched first.
func DriversDir(dir string) Option {
	return func(s *settings) error {
		s.driversDir = dir
		return nil
	}
}

// Capabilities merges c into the capabilities requested for the session.
func Capabilities(c selenium.Capabilities) Option {
	return func(s *settings) error {
		for k, v := range c {
			s.caps[k] = v
		}
		return nil
	}
}

// Proxy routes the browser's traffic through p.
func Proxy(p selenium.Proxy) Option {
	return func(s *settings) error {
		if p.Type == "" {
			return fmt.Errorf("proxy type is required")
		}
		s.proxy = &p
		return nil
	}
}

// WindowSize resizes the browser window once the session has started.
func WindowSize(width, height int) Option {
	return func(s *settings) error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("invalid window size %dx%d", width, height)
		}
		s.width, s.height = width, height
		return nil
	}
}

// WithServiceOptions passes opts to the driver process.
func WithServiceOptions(opts ...ServiceOption) Option {
	return func(s *settings) error {
		s.serviceOptions = append(s.serviceOptions, opts...)
		return nil
	}
}

func newSettings(caps selenium.Capabilities, opts []Option) (*settings, error) {
	s := &settings{caps: caps}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.proxy != nil {
		s.caps.AddProxy(*s.proxy)
	}
	return s, nil
}

// Remote connects to a running WebDriver server at addr.
func Remote(addr string, caps selenium.Capabilities, opts ...Option) (*Session, error) {
	if caps == nil {
		caps = selenium.Capabilities{}
	}
	s, err := newSettings(caps, opts)
	if err != nil {
		return nil, err
	}
	wd, err := newRemote(s.caps, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %v", addr, err)
	}
	sess := &Session{WebDriver: wd}
	if err := s.resize(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Sauce starts a session on the Sauce Labs browser cloud.
func Sauce(user, key string, sc sauce.Capabilities, opts ...Option) (*Session, error) {
	m, err := sc.ToMap()
	if err != nil {
		return nil, fmt.Errorf("sauce capabilities: %v", err)
	}
	caps := selenium.Capabilities{}
	for k, v := range m {
		caps[k] = v
	}
	return Remote(sauce.Addr(user, key), caps, opts...)
}

// Chrome starts ChromeDriver and a Chrome session. Unless visible, the browser
// runs headless.
func Chrome(visible bool, opts ...Option) (*Session, error) {
	caps := selenium.Capabilities{"browserName": "chrome"}
	cc := chrome.Capabilities{}
	if !visible {
		cc.Args = append(cc.Args, "--headless", "--no-sandbox")
	}
	caps.AddChrome(cc)
	return start(ChromeDriver, caps, opts)
}

// Firefox starts geckodriver and a Firefox session. Unless visible, the
// browser runs headless.
func Firefox(visible bool, opts ...Option) (*Session, error) {
	caps := selenium.Capabilities{"browserName": "firefox"}
	fc := firefox.Capabilities{}
	if !visible {
		fc.Args = append(fc.Args, "-headless")
	}
	caps.AddFirefox(fc)
	return start(GeckoDriver, caps, opts)
}

// PhantomJS starts a PhantomJS session. PhantomJS has no real screen, so the
// window is sized to 1280x1024 unless WindowSize says otherwise.
func PhantomJS(opts ...Option) (*Session, error) {
	caps := selenium.Capabilities{"browserName": "phantomjs"}
	opts = append([]Option{WindowSize(1280, 1024)}, opts...)
	return start(PhantomJSDriver, caps, opts)
}

// IE starts IEDriverServer and an Internet Explorer session.
func IE(opts ...Option) (*Session, error) {
	caps := selenium.Capabilities{"browserName": "internet explorer"}
	return start(IEDriver, caps, opts)
}

func start(kind Kind, caps selenium.Capabilities, opts []Option) (*Session, error) {
	s, err := newSettings(caps, opts)
	if err != nil {
		return nil, err
	}
	path := s.driverPath
	if path == "" {
		dir := s.driversDir
		if dir == "" {
			dir = Dir()
		}
		if path, err = ResolveIn(dir, string(kind)); err != nil {
			return nil, err
		}
	}
	port, err := PickUnusedPort()
	if err != nil {
		return nil, fmt.Errorf("picking a port for %s: %v", kind, err)
	}
	svc, err := NewService(kind, path, port, s.serviceOptions...)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	wd, err := newRemote(s.caps, svc.Addr())
	if err != nil {
		svc.Stop()
		return nil, fmt.Errorf("new %s session: %v", kind, err)
	}
	sess := &Session{WebDriver: wd, service: svc}
	if err := s.resize(sess); err != nil {
		sess.Quit()
		return nil, err
	}
	return sess, nil
}

func (s *settings) resize(sess *Session) error {
	if s.width == 0 {
		return nil
	}
	if err := sess.ResizeWindow("", s.width, s.height); err != nil {
		return fmt.Errorf("resizing window to %dx%d: %v", s.width, s.height, err)
	}
	return nil
}

// FromConfig starts the session described by cfg.
func FromConfig(cfg config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Debug {
		selenium.SetDebug(true)
	}

	var opts []Option
	if cfg.DriversDir != "" {
		opts = append(opts, DriversDir(cfg.DriversDir))
	}
	if cfg.WindowWidth > 0 {
		opts = append(opts, WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.FrameBuffer {
		opts = append(opts, WithServiceOptions(StartFrameBuffer()))
	}

	if cfg.RemoteURL != "" {
		caps := selenium.Capabilities{}
		if cfg.Browser != config.Remote {
			caps["browserName"] = browserName(cfg.Browser)
		}
		glog.V(1).Infof("Connecting to %s for %s", cfg.RemoteURL, cfg.Browser)
		return Remote(cfg.RemoteURL, caps, opts...)
	}

	switch cfg.Browser {
	case config.Chrome:
		return Chrome(cfg.Visible, opts...)
	case config.Firefox:
		return Firefox(cfg.Visible, opts...)
	case config.PhantomJS:
		return PhantomJS(opts...)
	case config.IE:
		return IE(opts...)
	}
	return nil, fmt.Errorf("unknown browser %q", cfg.Browser)
}

func browserName(b string) string {
	if b == config.IE {
		return "internet explorer"
	}
	return b
}
