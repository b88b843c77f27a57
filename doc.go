/*
Package regress makes UI regression tests on top of
github.com/tebeka/selenium shorter to write.

A Case binds a browser to a test. The browser is started on the first Get and
quit when the test ends, even when it fails:

	func TestSearch(t *testing.T) {
		regress.MustNew(t, regress.WithConfig(config.Default()))

		wd, err := regress.Get("https://www.google.co.jp")
		if err != nil {
			t.Fatal(err)
		}
		if host, _ := wd.Hostname(); !strings.Contains(host, "google") {
			t.Errorf("hostname = %q", host)
		}

		input, err := regress.Q("input[name='q']")
		if err != nil {
			t.Fatal(err)
		}
		input.SetText("hoge")
		input.SubmitAndWait()
	}

The package-level Get, Q, Qs, X, Xs, Wait and Close find the Case through
the call stack: they act on the Case created by the nearest calling function
that called New on the same goroutine. Helpers shared by several tests can
therefore use them without a Case argument, and parallel subtests sharing one
body each find their own Case.

Driver and Element wrap the library's WebDriver and WebElement. Besides the
shortcuts Q (CSS) and X (XPath), their ...AndWait methods perform an action
and block until the page it loads reports document.readyState "complete".
Pages changed by script alone never report a new load; use Wait with a
condition for those. Conditions are handed the *Driver, so they can use its
accessors.

Driver executables are located by package drivers.
*/
package regress
