package regress

import (
	"github.com/tebeka/selenium"
)

// The functions below act on the Case created by a function on the call
// stack. They fail with ErrNoCaller outside of one.

// Get opens u with the calling test's Case. See Case.Get.
func Get(u string, opts ...WaitOption) (*Driver, error) {
	c, err := CallerOf[*Case]()
	if err != nil {
		return nil, err
	}
	return c.Get(u, opts...)
}

// Close quits the calling test's driver.
func Close() error {
	c, err := CallerOf[*Case]()
	if err != nil {
		return err
	}
	return c.Close()
}

// Q returns the first element matching the CSS selector in the calling
// test's browser.
func Q(css string) (*Element, error) {
	c, err := CallerOf[*Case]()
	if err != nil {
		return nil, err
	}
	return c.Q(css)
}

// Qs returns all elements matching the CSS selector.
func Qs(css string) ([]*Element, error) {
	c, err := CallerOf[*Case]()
	if err != nil {
		return nil, err
	}
	return c.Qs(css)
}

// X returns the first element matching the XPath expression.
func X(xpath string) (*Element, error) {
	c, err := CallerOf[*Case]()
	if err != nil {
		return nil, err
	}
	return c.X(xpath)
}

// Xs returns all elements matching the XPath expression.
func Xs(xpath string) ([]*Element, error) {
	c, err := CallerOf[*Case]()
	if err != nil {
		return nil, err
	}
	return c.Xs(xpath)
}

// Wait polls cond in the calling test's browser until it holds.
func Wait(cond selenium.Condition, msg string, opts ...WaitOption) error {
	c, err := CallerOf[*Case]()
	if err != nil {
		return err
	}
	return c.Wait(cond, msg, opts...)
}
