// Package regresstest exercises package regress against a real browser. The
// tests live here so that every browser runs the same suite.
package regresstest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	socks5 "github.com/armon/go-socks5"
	"github.com/google/go-cmp/cmp"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/firefox"

	"github.com/wanmail/regress"
	"github.com/wanmail/regress/drivers"
)

// Config selects the browser under test.
type Config struct {
	// Browser is "chrome" or "firefox".
	Browser string
	// DriverPath is the driver executable; empty means drivers.Resolve.
	DriverPath string
	Headless   bool
	// ServerURL serves Handler.
	ServerURL string
	SkipProxy bool
}

func runTest(f func(*testing.T, Config), c Config) func(*testing.T) {
	return func(t *testing.T) {
		f(t, c)
	}
}

func newTestCapabilities(c Config) selenium.Capabilities {
	caps := selenium.Capabilities{"browserName": c.Browser}
	switch c.Browser {
	case "chrome":
		chrCaps := chrome.Capabilities{
			// The sandbox requires a setuid binary.
			Args: []string{"--no-sandbox"},
			W3C:  true,
		}
		if c.Headless {
			chrCaps.Args = append(chrCaps.Args, "--headless")
		}
		caps.AddChrome(chrCaps)
	case "firefox":
		f := firefox.Capabilities{}
		if testing.Verbose() {
			f.Log = &firefox.Log{Level: firefox.Trace}
		}
		if c.Headless {
			f.Args = append(f.Args, "-headless")
		}
		caps.AddFirefox(f)
	}
	return caps
}

// createDriver starts a session for c with caps replacing the defaults.
func createDriver(c Config, caps selenium.Capabilities, opts ...drivers.Option) func() (selenium.WebDriver, error) {
	return func() (selenium.WebDriver, error) {
		opts := append([]drivers.Option{drivers.Capabilities(caps)}, opts...)
		if c.DriverPath != "" {
			opts = append(opts, drivers.DriverPath(c.DriverPath))
		}
		var (
			sess *drivers.Session
			err  error
		)
		switch c.Browser {
		case "chrome":
			sess, err = drivers.Chrome(!c.Headless, opts...)
		case "firefox":
			sess, err = drivers.Firefox(!c.Headless, opts...)
		default:
			return nil, fmt.Errorf("unsupported browser %q", c.Browser)
		}
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// caseOptions configures a Case for c. Tests pass them to regress.MustNew
// themselves, so that the package-level helpers find the Case.
func caseOptions(c Config, opts ...regress.Option) []regress.Option {
	return append([]regress.Option{
		regress.WithCreateDriver(createDriver(c, newTestCapabilities(c))),
		regress.WithTimeout(20 * time.Second),
	}, opts...)
}

func RunCommonTests(t *testing.T, c Config) {
	t.Run("Get", runTest(testGet, c))
	t.Run("Navigation", runTest(testNavigation, c))
	t.Run("Search", runTest(testSearch, c))
	t.Run("Qs", runTest(testQs, c))
	t.Run("XPath", runTest(testXPath, c))
	t.Run("Document", runTest(testDocument, c))
	t.Run("Select", runTest(testSelect, c))
	t.Run("Wait", runTest(testWait, c))
	t.Run("EverySleep", runTest(testEverySleep, c))
	t.Run("Close", runTest(testClose, c))
	if !c.SkipProxy {
		t.Run("Proxy", runTest(testProxy, c))
	}
}

func testGet(t *testing.T, c Config) {
	tc := regress.MustNew(t, caseOptions(c)...)

	wd, err := regress.Get(c.ServerURL)
	if err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	if wd != tc.Driver() {
		t.Errorf("regress.Get returned a driver other than the case's")
	}
	host, err := wd.Hostname()
	if err != nil {
		t.Fatalf("wd.Hostname() returned error: %v", err)
	}
	if host != "127.0.0.1" {
		t.Errorf("wd.Hostname() = %q, want 127.0.0.1", host)
	}
	title, err := wd.Title()
	if err != nil {
		t.Fatalf("wd.Title() returned error: %v", err)
	}
	if want := "Go Selenium Test Suite"; title != want {
		t.Errorf("wd.Title() = %q, want %q", title, want)
	}
}

func testNavigation(t *testing.T, c Config) {
	regress.MustNew(t, caseOptions(c)...)

	wd, err := regress.Get(c.ServerURL)
	if err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	url2 := c.ServerURL + "/other"
	if err := wd.GetAndWait(url2); err != nil {
		t.Fatalf("wd.GetAndWait(%q) returned error: %v", url2, err)
	}

	steps := []struct {
		desc string
		do   func(...regress.WaitOption) error
		want string
	}{
		{"back", wd.BackAndWait, c.ServerURL + "/"},
		{"forward", wd.ForwardAndWait, url2},
		{"refresh", wd.RefreshAndWait, url2},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s returned error: %v", step.desc, err)
		}
		u, err := wd.CurrentURL()
		if err != nil {
			t.Fatalf("wd.CurrentURL() returned error: %v", err)
		}
		if u != step.want {
			t.Fatalf("%s got me to %s (expected %s)", step.desc, u, step.want)
		}
	}
}

func testSearch(t *testing.T, c Config) {
	regress.MustNew(t, caseOptions(c)...)

	if _, err := regress.Get(c.ServerURL); err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	for _, text := range []string{"golang", "hoge"} {
		input, err := regress.Q("input[name='q']")
		if err != nil {
			t.Fatalf("regress.Q() returned error: %v", err)
		}
		if err := input.SetText(text); err != nil {
			t.Fatalf("input.SetText(%q) returned error: %v", text, err)
		}
		if err := input.SubmitAndWait(); err != nil {
			t.Fatalf("input.SubmitAndWait() returned error: %v", err)
		}
		source, err := regress.Q("body")
		if err != nil {
			t.Fatalf("regress.Q(body) returned error: %v", err)
		}
		body, err := source.Text()
		if err != nil {
			t.Fatalf("body.Text() returned error: %v", err)
		}
		if want := fmt.Sprintf("You searched for %q", text); !strings.Contains(body, want) {
			t.Errorf("search page body = %q, want it to contain %q", body, want)
		}
		if _, err := regress.Get(c.ServerURL); err != nil {
			t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
		}
	}
}

func testQs(t *testing.T, c Config) {
	regress.MustNew(t, caseOptions(c)...)

	if _, err := regress.Get(c.ServerURL); err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	links, err := regress.Qs("a")
	if err != nil {
		t.Fatalf("regress.Qs(a) returned error: %v", err)
	}
	var got []string
	for _, l := range links {
		text, err := l.Text()
		if err != nil {
			t.Fatalf("link.Text() returned error: %v", err)
		}
		got = append(got, text)
	}
	if diff := cmp.Diff([]string{"other page", "тест", "search"}, got); diff != "" {
		t.Errorf("link texts returned diff (-want/+got):\n%s", diff)
	}

	form, err := regress.Q("form")
	if err != nil {
		t.Fatalf("regress.Q(form) returned error: %v", err)
	}
	inputs, err := form.Qs("input")
	if err != nil {
		t.Fatalf("form.Qs(input) returned error: %v", err)
	}
	if len(inputs) != 3 {
		t.Errorf("form has %d inputs, want 3", len(inputs))
	}
}

func testXPath(t *testing.T, c Config) {
	regress.MustNew(t, caseOptions(c)...)

	wd, err := regress.Get(c.ServerURL)
	if err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	link, err := regress.X("//a[@href='/other']")
	if err != nil {
		t.Fatalf("regress.X() returned error: %v", err)
	}
	if err := link.ClickAndWait(); err != nil {
		t.Fatalf("link.ClickAndWait() returned error: %v", err)
	}
	title, err := wd.Title()
	if err != nil {
		t.Fatalf("wd.Title() returned error: %v", err)
	}
	if want := "Go Selenium Test Suite - Other Page"; title != want {
		t.Errorf("title after click = %q, want %q", title, want)
	}
	if _, err := regress.Xs("//a"); err != nil {
		t.Errorf("regress.Xs(//a) returned error: %v", err)
	}
}

func testDocument(t *testing.T, c Config) {
	regress.MustNew(t, caseOptions(c)...)

	wd, err := regress.Get(c.ServerURL + "/search?q=golang&s=first_value")
	if err != nil {
		t.Fatalf("regress.Get() returned error: %v", err)
	}
	doc, err := wd.Document()
	if err != nil {
		t.Fatalf("wd.Document() returned error: %v", err)
	}
	if got := doc.Find("p").Text(); !strings.Contains(got, searchContents) {
		t.Errorf("paragraph text = %q, want it to contain %q", got, searchContents)
	}
}

func testSelect(t *testing.T, c Config) {
	regress.MustNew(t, caseOptions(c)...)

	if _, err := regress.Get(c.ServerURL); err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	el, err := regress.Q("select[name='s']")
	if err != nil {
		t.Fatalf("regress.Q(select) returned error: %v", err)
	}
	sel, err := el.Select()
	if err != nil {
		t.Fatalf("el.Select() returned error: %v", err)
	}

	selectedValue := func() string {
		t.Helper()
		opts, err := sel.Selected()
		if err != nil || len(opts) != 1 {
			t.Fatalf("sel.Selected() = %d options, %v", len(opts), err)
		}
		v, err := opts[0].GetAttribute("value")
		if err != nil {
			t.Fatalf("GetAttribute(value) returned error: %v", err)
		}
		return v
	}

	if err := sel.SelectByText("Second Value"); err != nil {
		t.Fatalf("sel.SelectByText() returned error: %v", err)
	}
	if got := selectedValue(); got != "second_value" {
		t.Errorf("selected after SelectByText = %q, want second_value", got)
	}
	if err := sel.SelectByIndex(0); err != nil {
		t.Fatalf("sel.SelectByIndex(0) returned error: %v", err)
	}
	if got := selectedValue(); got != "first_value" {
		t.Errorf("selected after SelectByIndex = %q, want first_value", got)
	}
	if err := sel.SelectByValue("second_value"); err != nil {
		t.Fatalf("sel.SelectByValue() returned error: %v", err)
	}
	if got := selectedValue(); got != "second_value" {
		t.Errorf("selected after SelectByValue = %q, want second_value", got)
	}

	input, err := regress.Q("input[name='q']")
	if err != nil {
		t.Fatalf("regress.Q(input) returned error: %v", err)
	}
	if _, err := input.Select(); err == nil {
		t.Error("input.Select() did not return an error")
	}
}

func testWait(t *testing.T, c Config) {
	regress.MustNew(t, caseOptions(c)...)

	if _, err := regress.Get(c.ServerURL + "/title"); err != nil {
		t.Fatalf("regress.Get() returned error: %v", err)
	}
	const newTitle = "Title changed."
	titleChanged := func(wd selenium.WebDriver) (bool, error) {
		title, err := wd.Title()
		if err != nil {
			return false, err
		}
		return title == newTitle, nil
	}
	if err := regress.Wait(titleChanged, "title change", regress.Timeout(5*time.Second)); err != nil {
		t.Fatalf("regress.Wait() returned error: %v", err)
	}

	never := func(selenium.WebDriver) (bool, error) { return false, nil }
	if err := regress.Wait(never, "never", regress.Timeout(500*time.Millisecond)); err == nil {
		t.Error("regress.Wait(never) did not time out")
	}
}

func testEverySleep(t *testing.T, c Config) {
	regress.MustNew(t, caseOptions(c)...)

	if _, err := regress.Get(c.ServerURL); err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	start := time.Now()
	err := regress.EverySleep(200*time.Millisecond, func() error {
		input, err := regress.Q("input[name='q']")
		if err != nil {
			return err
		}
		return input.SetText("paced")
	})
	if err != nil {
		t.Fatalf("regress.EverySleep() returned error: %v", err)
	}
	if d := time.Since(start); d < 200*time.Millisecond {
		t.Errorf("regress.EverySleep returned after %v, want at least 200ms", d)
	}
}

func testClose(t *testing.T, c Config) {
	tc := regress.MustNew(t, caseOptions(c)...)

	first, err := regress.Get(c.ServerURL)
	if err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	if err := regress.Close(); err != nil {
		t.Fatalf("regress.Close() returned error: %v", err)
	}
	if tc.Driver() != nil {
		t.Fatal("case still has a driver after Close")
	}
	if _, err := regress.Q("a"); !errors.Is(err, regress.ErrNoDriver) {
		t.Errorf("regress.Q after Close error = %v, want ErrNoDriver", err)
	}
	second, err := regress.Get(c.ServerURL)
	if err != nil {
		t.Fatalf("regress.Get after Close returned error: %v", err)
	}
	if second == first {
		t.Error("regress.Get after Close reused the quit driver")
	}
}

const proxyPageContents = "You are viewing a proxied page"

// addrRewriter rewrites all requested addresses to the one specified by the
// URL.
type addrRewriter struct{ u *url.URL }

func (a *addrRewriter) Rewrite(ctx context.Context, _ *socks5.Request) (context.Context, *socks5.AddrSpec) {
	port, err := strconv.Atoi(a.u.Port())
	if err != nil {
		panic(err)
	}
	return ctx, &socks5.AddrSpec{
		FQDN: a.u.Hostname(),
		Port: port,
	}
}

func testProxy(t *testing.T, c Config) {
	// A different web server that should be reached when proxying is enabled.
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, proxyPageContents)
	}))
	defer s.Close()

	u, err := url.Parse(s.URL)
	if err != nil {
		t.Fatalf("url.Parse(%q) returned error: %v", s.URL, err)
	}

	socks, err := socks5.New(&socks5.Config{
		Rewriter: &addrRewriter{u},
	})
	if err != nil {
		t.Fatalf("socks5.New(_) returned error: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen(_, _) return error: %v", err)
	}

	// Serve SOCKS connections, but don't fail the test once the listener is
	// closed at the end of execution.
	done := make(chan struct{})
	go func() {
		err := socks.Serve(l)
		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			t.Errorf("socks.Serve(_) returned error: %v", err)
		}
	}()
	defer func() {
		close(done)
		l.Close()
	}()

	caps := newTestCapabilities(c)
	allowProxyForLocalhost(c.Browser, caps)
	proxy := drivers.Proxy(selenium.Proxy{
		Type:         selenium.Manual,
		SOCKS:        l.Addr().String(),
		SOCKSVersion: 5,
	})
	regress.MustNew(t, caseOptions(c, regress.WithCreateDriver(createDriver(c, caps, proxy)))...)

	wd, err := regress.Get(c.ServerURL)
	if err != nil {
		t.Fatalf("regress.Get(%q) returned error: %v", c.ServerURL, err)
	}
	source, err := wd.PageSource()
	if err != nil {
		t.Fatalf("wd.PageSource() returned error: %v", err)
	}
	if !strings.Contains(source, proxyPageContents) {
		if strings.Contains(source, "Go Selenium Test Suite") {
			t.Fatal("Got non-proxied page.")
		}
		t.Fatalf("Got page: %s\n\nExpected: %q", source, proxyPageContents)
	}
}

func allowProxyForLocalhost(browser string, caps selenium.Capabilities) {
	switch browser {
	case "firefox":
		// By default, Firefox explicitly does not use a proxy for connection to
		// localhost and 127.0.0.1. Clear this preference to reach our test proxy.
		ff := caps[firefox.CapabilitiesKey].(firefox.Capabilities)
		if ff.Prefs == nil {
			ff.Prefs = make(map[string]interface{})
		}
		ff.Prefs["network.proxy.no_proxies_on"] = ""
		ff.Prefs["network.proxy.allow_hijacking_localhost"] = true
		caps.AddFirefox(ff)

	case "chrome":
		ch := caps[chrome.CapabilitiesKey].(chrome.Capabilities)
		// https://crbug.com/899126
		ch.Args = append(ch.Args, "--proxy-bypass-list=<-loopback>")
		caps.AddChrome(ch)
	}
}

var homePage = `
<html>
<head>
	<title>Go Selenium Test Suite</title>
</head>
<body>
	The home page. <br />
	<form action="/search">
		<input name="q" autofocus />
		<input name="submit" type="submit" id="submit" /> <br />
		<input id="chuk" type="checkbox" /> A checkbox.
		<select name="s">
			<option value="first_value">First Value</option>
			<option id="secondValue" value="second_value">Second Value</option>
		</select>
	</form>
	Link to the <a href="/other">other page</a>.

	<a href="/log">тест</a>
	<a href="/search">search</a>
</body>
</html>
`

var otherPage = `
<html>
<head>
	<title>Go Selenium Test Suite - Other Page</title>
</head>
<body>
	The other page.
</body>
</html>
`

const searchContents = "The Go Programming Language"

var searchPage = `
<html>
<head>
	<title>Go Selenium Test Suite - Search Page</title>
</head>
<body>
	You searched for "%s". I'll pretend I've found:
	<p>
	"` + searchContents + `"
	</p>
	Select value is: %s
</body>
</html>
`

var titleChangePage = `
<html>
<head>
	<title>Go Selenium Test Suite - Title Change Page</title>
</head>
<body>
	This page will change a title after 1 second.

	<script>
		setTimeout(function() { document.title = 'Title changed.' }, 1000);
	</script>
</body>
</html>
`

// Handler serves the pages the suite navigates.
var Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	page, ok := map[string]string{
		"/":       homePage,
		"/other":  otherPage,
		"/search": searchPage,
		"/title":  titleChangePage,
	}[path]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if path == "/search" {
		r.ParseForm()
		page = fmt.Sprintf(page, r.Form.Get("q"), r.Form.Get("s"))
	}
	fmt.Fprint(w, page)
})
