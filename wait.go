package regress

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/tebeka/selenium"
)

// DefaultTimeout bounds waits that are not given an explicit Timeout.
const DefaultTimeout = 30 * time.Second

const defaultInterval = 100 * time.Millisecond

type waitConfig struct {
	settle   time.Duration
	timeout  time.Duration
	interval time.Duration
	until    selenium.Condition
}

// WaitOption tunes a wait.
type WaitOption func(*waitConfig)

// Settle sleeps d after the action, before readiness is first checked. A
// zero value falls back to the test case's setting.
func Settle(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.settle = d }
}

// Timeout bounds how long the condition is polled.
func Timeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.timeout = d }
}

// Interval sets the polling interval.
func Interval(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.interval = d }
}

// Until replaces the page-load condition of WaitForPageLoad.
func Until(cond selenium.Condition) WaitOption {
	return func(c *waitConfig) { c.until = cond }
}

// newWaitConfig applies opts over the defaults of wd: a *Driver carries its
// test case's settle time and timeout, and so does the Case found on the
// call stack.
func newWaitConfig(wd selenium.WebDriver, opts []WaitOption) waitConfig {
	c := waitConfig{
		timeout:  DefaultTimeout,
		interval: defaultInterval,
		until:    PageLoaded,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.settle <= 0 || c.timeout <= 0 {
		var settle, timeout time.Duration
		if d, ok := wd.(*Driver); ok {
			settle, timeout = d.settle, d.timeout
		} else if tc, err := CallerOf[*Case](); err == nil {
			settle, timeout = tc.settle, tc.timeout
		}
		if c.settle <= 0 {
			c.settle = settle
		}
		if c.timeout <= 0 {
			c.timeout = timeout
		}
		if c.timeout <= 0 {
			c.timeout = DefaultTimeout
		}
	}
	if c.interval <= 0 {
		c.interval = defaultInterval
	}
	return c
}

// PageLoaded reports whether the current document has finished loading.
func PageLoaded(wd selenium.WebDriver) (bool, error) {
	state, err := wd.ExecuteScript("return document.readyState", nil)
	if err != nil {
		return false, err
	}
	return state == "complete", nil
}

// WaitForPageLoad runs action, then waits for the page it triggers to finish
// loading. Pages updated by script without a navigation never report a new
// load; give those an Until condition.
func WaitForPageLoad(wd selenium.WebDriver, action func() error, opts ...WaitOption) error {
	c := newWaitConfig(wd, opts)
	if err := action(); err != nil {
		return err
	}
	Sleep(c.settle)
	return waitUntil(wd, c, "page load")
}

// waitUntil polls c.until, treating errors from the condition as "not yet".
// The condition is handed wd itself, so a *Driver keeps its accessors.
func waitUntil(wd selenium.WebDriver, c waitConfig, msg string) error {
	cond := c.until
	ignoring := func(selenium.WebDriver) (bool, error) {
		ok, err := cond(wd)
		if err != nil {
			glog.V(2).Infof("Ignoring error while waiting for %s: %v", msg, err)
			return false, nil
		}
		return ok, nil
	}
	start := time.Now()
	if err := wd.WaitWithTimeoutAndInterval(ignoring, c.timeout, c.interval); err != nil {
		if msg == "" {
			return err
		}
		return fmt.Errorf("waiting for %s: %v", msg, err)
	}
	glog.V(1).Infof("Waited %v for %s", time.Since(start), msg)
	return nil
}

// Sleep pauses the test for d.
func Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// EverySleep runs action and then sleeps d, pacing a sequence of steps for
// pages that cannot keep up.
func EverySleep(d time.Duration, action func() error) error {
	if err := action(); err != nil {
		return err
	}
	Sleep(d)
	return nil
}
