package regress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/glog"
	"github.com/tebeka/selenium"

	"github.com/wanmail/regress/config"
	"github.com/wanmail/regress/drivers"
)

// ErrNoDriver is returned when a Case has no live driver and no way to
// create one.
var ErrNoDriver = errors.New("regress: no WebDriver")

// getSettle is the settle time Get uses unless told otherwise.
const getSettle = time.Second

// Case binds a WebDriver to a running test. The driver is created on the
// first Get and quit when the test finishes.
type Case struct {
	tb testing.TB

	mu     sync.Mutex
	d      *Driver
	create func() (selenium.WebDriver, error)

	settle  time.Duration
	timeout time.Duration

	unregister func()
}

// Option configures a Case.
type Option func(*Case) error

// WithDriver makes the case use wd, which is quit with the test.
func WithDriver(wd selenium.WebDriver) Option {
	return func(c *Case) error {
		if wd == nil {
			return ErrNoDriver
		}
		c.d = c.wrap(wd)
		return nil
	}
}

// WithCreateDriver makes the case call create whenever it needs a new driver.
func WithCreateDriver(create func() (selenium.WebDriver, error)) Option {
	return func(c *Case) error {
		c.create = create
		return nil
	}
}

// WithConfig creates drivers as cfg describes and takes its settle time and
// timeout.
func WithConfig(cfg config.Config) Option {
	return func(c *Case) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.settle, c.timeout = cfg.Settle, cfg.Timeout
		c.create = func() (selenium.WebDriver, error) {
			sess, err := drivers.FromConfig(cfg)
			if err != nil {
				return nil, err
			}
			return sess, nil
		}
		return nil
	}
}

// WithSettle sleeps d after every page load of the case, for pages that keep
// changing once loaded.
func WithSettle(d time.Duration) Option {
	return func(c *Case) error {
		c.settle = d
		return nil
	}
}

// WithTimeout bounds the waits of the case.
func WithTimeout(d time.Duration) Option {
	return func(c *Case) error {
		c.timeout = d
		return nil
	}
}

// New returns a Case for tb. The case is registered for the calling
// function, so the package-level helpers called from it, directly or
// through other functions, act on this case.
func New(tb testing.TB, opts ...Option) (*Case, error) {
	return newCase(tb, opts, 1)
}

// MustNew is like New but fails the test on error.
func MustNew(tb testing.TB, opts ...Option) *Case {
	tb.Helper()
	c, err := newCase(tb, opts, 1)
	if err != nil {
		tb.Fatalf("regress.New: %v", err)
	}
	return c
}

// newCase registers the case for the function skip frames above its caller.
func newCase(tb testing.TB, opts []Option, skip int) (*Case, error) {
	c := &Case{tb: tb, timeout: DefaultTimeout}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.d == nil && c.create == nil {
		return nil, ErrNoDriver
	}
	if c.d != nil {
		c.d.settle, c.d.timeout = c.settle, c.timeout
	}
	c.unregister = register(c, skip+1)
	tb.Cleanup(c.cleanup)
	return c, nil
}

func (c *Case) wrap(wd selenium.WebDriver) *Driver {
	d := &Driver{WebDriver: wd, settle: c.settle, timeout: c.timeout, onQuit: c.detach}
	if inner, ok := wd.(*Driver); ok {
		d.WebDriver = inner.WebDriver
	}
	return d
}

func (c *Case) detach(d *Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d == d {
		c.d = nil
	}
}

func (c *Case) cleanup() {
	c.unregister()
	if err := c.Close(); err != nil {
		c.tb.Logf("regress: quitting WebDriver: %v", err)
	}
}

// Driver returns the live driver, or nil before the first Get and after the
// driver quit.
func (c *Case) Driver() *Driver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.d
}

func (c *Case) current() (*Driver, error) {
	if d := c.Driver(); d != nil {
		return d, nil
	}
	return nil, ErrNoDriver
}

func (c *Case) ensureDriver() (*Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d != nil {
		return c.d, nil
	}
	if c.create == nil {
		return nil, ErrNoDriver
	}
	wd, err := c.create()
	if err != nil {
		return nil, err
	}
	if wd == nil {
		return nil, ErrNoDriver
	}
	glog.V(1).Infof("Started WebDriver for %s", c.tb.Name())
	c.d = c.wrap(wd)
	return c.d, nil
}

// Get opens u, starting the driver when needed, and waits for the page to
// load. Unless opts say otherwise, it settles for a second first.
func (c *Case) Get(u string, opts ...WaitOption) (*Driver, error) {
	d, err := c.ensureDriver()
	if err != nil {
		return nil, err
	}
	opts = append([]WaitOption{Settle(getSettle)}, opts...)
	if err := d.GetAndWait(u, opts...); err != nil {
		return d, err
	}
	return d, nil
}

// Close quits the live driver, if any.
func (c *Case) Close() error {
	d := c.Driver()
	if d == nil {
		return nil
	}
	return d.Quit()
}

// Q returns the first element matching the CSS selector.
func (c *Case) Q(css string) (*Element, error) {
	d, err := c.current()
	if err != nil {
		return nil, err
	}
	return d.Q(css)
}

// Qs returns all elements matching the CSS selector.
func (c *Case) Qs(css string) ([]*Element, error) {
	d, err := c.current()
	if err != nil {
		return nil, err
	}
	return d.Qs(css)
}

// X returns the first element matching the XPath expression.
func (c *Case) X(xpath string) (*Element, error) {
	d, err := c.current()
	if err != nil {
		return nil, err
	}
	return d.X(xpath)
}

// Xs returns all elements matching the XPath expression.
func (c *Case) Xs(xpath string) ([]*Element, error) {
	d, err := c.current()
	if err != nil {
		return nil, err
	}
	return d.Xs(xpath)
}

// Wait polls cond until it holds, ignoring the errors it returns. msg
// describes the condition when the wait times out.
func (c *Case) Wait(cond selenium.Condition, msg string, opts ...WaitOption) error {
	d, err := c.current()
	if err != nil {
		return err
	}
	return d.WaitFor(cond, msg, opts...)
}
