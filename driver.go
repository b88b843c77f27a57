package regress

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/golang/glog"
	"github.com/tebeka/selenium"
)

// Driver wraps a selenium.WebDriver with lookup shortcuts and actions that
// wait for the page load they trigger.
type Driver struct {
	selenium.WebDriver

	settle  time.Duration
	timeout time.Duration
	onQuit  func(*Driver)
}

// Wrap returns wd with the convenience accessors. Wrapping a *Driver returns
// it unchanged.
func Wrap(wd selenium.WebDriver) *Driver {
	if d, ok := wd.(*Driver); ok {
		return d
	}
	return &Driver{WebDriver: wd, timeout: DefaultTimeout}
}

// Quit ends the session. A driver owned by a Case is detached from it, so
// the case starts a new browser on its next Get.
func (d *Driver) Quit() error {
	err := d.WebDriver.Quit()
	if d.onQuit != nil {
		d.onQuit(d)
	}
	return err
}

func (d *Driver) element(we selenium.WebElement) *Element {
	return &Element{WebElement: we, d: d}
}

func (d *Driver) elements(wes []selenium.WebElement) []*Element {
	es := make([]*Element, len(wes))
	for i, we := range wes {
		es[i] = d.element(we)
	}
	return es
}

func (d *Driver) find(by, value string) (*Element, error) {
	we, err := d.FindElement(by, value)
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", by, value, err)
	}
	return d.element(we), nil
}

func (d *Driver) findAll(by, value string) ([]*Element, error) {
	wes, err := d.FindElements(by, value)
	if err != nil {
		return nil, fmt.Errorf("find all %s %q: %w", by, value, err)
	}
	return d.elements(wes), nil
}

// Q returns the first element matching the CSS selector.
func (d *Driver) Q(css string) (*Element, error) { return d.find(selenium.ByCSSSelector, css) }

// Qs returns all elements matching the CSS selector.
func (d *Driver) Qs(css string) ([]*Element, error) { return d.findAll(selenium.ByCSSSelector, css) }

// X returns the first element matching the XPath expression.
func (d *Driver) X(xpath string) (*Element, error) { return d.find(selenium.ByXPATH, xpath) }

// Xs returns all elements matching the XPath expression.
func (d *Driver) Xs(xpath string) ([]*Element, error) { return d.findAll(selenium.ByXPATH, xpath) }

// Hostname returns the host of the current URL, without the port.
func (d *Driver) Hostname() (string, error) {
	raw, err := d.CurrentURL()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("current URL %q: %v", raw, err)
	}
	return u.Hostname(), nil
}

// Document parses the current page source.
func (d *Driver) Document() (*goquery.Document, error) {
	src, err := d.PageSource()
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(src))
}

// AndWait runs action and waits for the page load it triggers.
func (d *Driver) AndWait(action func() error, opts ...WaitOption) error {
	return WaitForPageLoad(d, action, opts...)
}

// GetAndWait navigates to u and waits for the page to load.
func (d *Driver) GetAndWait(u string, opts ...WaitOption) error {
	glog.V(1).Infof("Opening %s", u)
	return d.AndWait(func() error { return d.WebDriver.Get(u) }, opts...)
}

// RefreshAndWait reloads the page and waits for it to load.
func (d *Driver) RefreshAndWait(opts ...WaitOption) error {
	return d.AndWait(d.WebDriver.Refresh, opts...)
}

// BackAndWait goes back in history and waits for the page to load.
func (d *Driver) BackAndWait(opts ...WaitOption) error {
	return d.AndWait(d.WebDriver.Back, opts...)
}

// ForwardAndWait goes forward in history and waits for the page to load.
func (d *Driver) ForwardAndWait(opts ...WaitOption) error {
	return d.AndWait(d.WebDriver.Forward, opts...)
}

// WaitFor polls cond until it holds. Errors returned by cond are retried;
// msg describes the condition when the wait times out. Unlike the Wait of the
// embedded WebDriver, it honors the test case's timeout.
func (d *Driver) WaitFor(cond selenium.Condition, msg string, opts ...WaitOption) error {
	c := newWaitConfig(d, append([]WaitOption{Until(cond)}, opts...))
	return waitUntil(d, c, msg)
}

// Element wraps a selenium.WebElement found through a Driver.
type Element struct {
	selenium.WebElement
	d *Driver
}

// Driver returns the driver the element was found with.
func (e *Element) Driver() *Driver {
	return e.d
}

func (e *Element) find(by, value string) (*Element, error) {
	we, err := e.FindElement(by, value)
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", by, value, err)
	}
	return e.d.element(we), nil
}

func (e *Element) findAll(by, value string) ([]*Element, error) {
	wes, err := e.FindElements(by, value)
	if err != nil {
		return nil, fmt.Errorf("find all %s %q: %w", by, value, err)
	}
	return e.d.elements(wes), nil
}

// Q returns the first descendant matching the CSS selector.
func (e *Element) Q(css string) (*Element, error) { return e.find(selenium.ByCSSSelector, css) }

// Qs returns all descendants matching the CSS selector.
func (e *Element) Qs(css string) ([]*Element, error) { return e.findAll(selenium.ByCSSSelector, css) }

// X returns the first descendant matching the XPath expression.
func (e *Element) X(xpath string) (*Element, error) { return e.find(selenium.ByXPATH, xpath) }

// Xs returns all descendants matching the XPath expression.
func (e *Element) Xs(xpath string) ([]*Element, error) { return e.findAll(selenium.ByXPATH, xpath) }

// SetText replaces the contents of an input with text.
func (e *Element) SetText(text string) error {
	if err := e.Clear(); err != nil {
		return err
	}
	return e.SendKeys(text)
}

// AndWait runs action and waits for the page load it triggers.
func (e *Element) AndWait(action func() error, opts ...WaitOption) error {
	return e.d.AndWait(action, opts...)
}

// ClickAndWait clicks the element and waits for the resulting page load.
func (e *Element) ClickAndWait(opts ...WaitOption) error {
	return e.AndWait(e.WebElement.Click, opts...)
}

// SubmitAndWait submits the element's form and waits for the resulting page
// load.
func (e *Element) SubmitAndWait(opts ...WaitOption) error {
	return e.AndWait(e.WebElement.Submit, opts...)
}
