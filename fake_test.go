package regress

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tebeka/selenium"
)

var errNoSuchElement = errors.New("no such element")

// fakeWD is an in-memory browser. Calls outside the ones implemented here
// panic through the nil embedded interface.
type fakeWD struct {
	selenium.WebDriver

	url     string
	title   string
	source  string
	actions []string

	// loads is how many readyState checks report "loading" after a
	// navigation; scriptErrs fail that many checks first.
	loads      int
	loading    int
	scriptErrs int
	checks     int

	elements map[string][]*fakeElement
	quits    int
	quitErr  error
}

func newFakeWD() *fakeWD {
	return &fakeWD{elements: make(map[string][]*fakeElement)}
}

func key(by, value string) string { return by + "=" + value }

func (f *fakeWD) add(by, value string, es ...*fakeElement) {
	for _, e := range es {
		e.wd = f
	}
	f.elements[key(by, value)] = append(f.elements[key(by, value)], es...)
}

func (f *fakeWD) navigate(action string) {
	f.actions = append(f.actions, action)
	f.loading = f.loads
}

func (f *fakeWD) Get(u string) error {
	f.url = u
	f.navigate("get " + u)
	return nil
}

func (f *fakeWD) Refresh() error { f.navigate("refresh"); return nil }
func (f *fakeWD) Back() error    { f.navigate("back"); return nil }
func (f *fakeWD) Forward() error { f.navigate("forward"); return nil }

func (f *fakeWD) CurrentURL() (string, error) { return f.url, nil }
func (f *fakeWD) Title() (string, error)      { return f.title, nil }
func (f *fakeWD) PageSource() (string, error) { return f.source, nil }

func (f *fakeWD) ExecuteScript(script string, args []interface{}) (interface{}, error) {
	f.checks++
	if script != "return document.readyState" {
		return nil, fmt.Errorf("unexpected script %q", script)
	}
	if f.scriptErrs > 0 {
		f.scriptErrs--
		return nil, errors.New("javascript error")
	}
	if f.loading > 0 {
		f.loading--
		return "loading", nil
	}
	return "complete", nil
}

func (f *fakeWD) FindElement(by, value string) (selenium.WebElement, error) {
	es := f.elements[key(by, value)]
	if len(es) == 0 {
		return nil, errNoSuchElement
	}
	return es[0], nil
}

func (f *fakeWD) FindElements(by, value string) ([]selenium.WebElement, error) {
	return webElements(f.elements[key(by, value)]), nil
}

func (f *fakeWD) Quit() error {
	f.quits++
	return f.quitErr
}

// WaitWithTimeoutAndInterval polls like the library does: condition errors
// end the wait.
func (f *fakeWD) WaitWithTimeoutAndInterval(cond selenium.Condition, timeout, interval time.Duration) error {
	start := time.Now()
	for {
		done, err := cond(f)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if elapsed := time.Since(start); elapsed > timeout {
			return fmt.Errorf("timeout after %v", elapsed)
		}
		time.Sleep(interval)
	}
}

type fakeElement struct {
	selenium.WebElement

	wd       *fakeWD
	tag      string
	text     string
	attrs    map[string]string
	keys     string
	clears   int
	clicks   int
	selected bool
	options  []*fakeElement
	parent   *fakeElement
	children map[string][]*fakeElement

	// navigates makes Click and Submit start a page load.
	navigates bool
}

func webElements(es []*fakeElement) []selenium.WebElement {
	wes := make([]selenium.WebElement, len(es))
	for i, e := range es {
		wes[i] = e
	}
	return wes
}

func newSelect(multiple bool, opts ...*fakeElement) *fakeElement {
	s := &fakeElement{tag: "select", options: opts, attrs: map[string]string{}}
	if multiple {
		s.attrs["multiple"] = "true"
	}
	for _, o := range opts {
		o.parent = s
	}
	return s
}

func newOption(value, text string) *fakeElement {
	return &fakeElement{tag: "option", text: text, attrs: map[string]string{"value": value}}
}

func (e *fakeElement) find(by, value string) []*fakeElement {
	if by == selenium.ByTagName && value == "option" {
		return e.options
	}
	var found []*fakeElement
	for _, o := range e.options {
		byText := ".//option[normalize-space(.) = " + xpathLiteral(strings.TrimSpace(o.text)) + "]"
		byValue := ".//option[@value = " + xpathLiteral(o.attrs["value"]) + "]"
		if by == selenium.ByXPATH && (value == byText || value == byValue) {
			found = append(found, o)
		}
	}
	if found != nil {
		return found
	}
	return e.children[key(by, value)]
}

func (e *fakeElement) FindElement(by, value string) (selenium.WebElement, error) {
	es := e.find(by, value)
	if len(es) == 0 {
		return nil, errNoSuchElement
	}
	return es[0], nil
}

func (e *fakeElement) FindElements(by, value string) ([]selenium.WebElement, error) {
	return webElements(e.find(by, value)), nil
}

func (e *fakeElement) TagName() (string, error) { return e.tag, nil }
func (e *fakeElement) Text() (string, error)    { return e.text, nil }

func (e *fakeElement) GetAttribute(name string) (string, error) {
	v, ok := e.attrs[name]
	if !ok {
		return "", fmt.Errorf("nil return value")
	}
	return v, nil
}

func (e *fakeElement) IsSelected() (bool, error) { return e.selected, nil }

func (e *fakeElement) Clear() error {
	e.clears++
	e.keys = ""
	return nil
}

func (e *fakeElement) SendKeys(keys string) error {
	e.keys += keys
	return nil
}

func (e *fakeElement) Click() error {
	e.clicks++
	if e.tag == "option" && e.parent != nil {
		if _, multi := e.parent.attrs["multiple"]; !multi {
			for _, o := range e.parent.options {
				o.selected = false
			}
			e.selected = true
		} else {
			e.selected = !e.selected
		}
	}
	if e.navigates {
		e.wd.navigate("click")
	}
	return nil
}

func (e *fakeElement) Submit() error {
	if e.navigates {
		e.wd.navigate("submit")
	}
	return nil
}
