package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%q) returned error: %v", p, err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := writeFile(t, t.TempDir(), "regress.yaml", `
browser: firefox
visible: true
settle: 500ms
window_width: 1280
window_height: 1024
`)

	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load(%q) returned error: %v", p, err)
	}
	want := Config{
		Browser:      Firefox,
		Visible:      true,
		Settle:       500 * time.Millisecond,
		Timeout:      30 * time.Second,
		WindowWidth:  1280,
		WindowHeight: 1024,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load returned diff (-want/+got):\n%s", diff)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "regress.yaml", "browser: firefox\ntimeout: 10s\n")
	t.Setenv("REGRESS_BROWSER", "phantomjs")
	t.Setenv("REGRESS_SETTLE", "2s")

	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load(%q) returned error: %v", p, err)
	}
	if got.Browser != PhantomJS {
		t.Errorf("Browser = %q, want %q", got.Browser, PhantomJS)
	}
	if got.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s from the file", got.Timeout)
	}
	if got.Settle != 2*time.Second {
		t.Errorf("Settle = %v, want 2s from the environment", got.Settle)
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	got, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir(empty) returned error: %v", err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("LoadFromDir(empty) returned diff (-want/+got):\n%s", diff)
	}

	writeFile(t, dir, "regress.yml", "browser: ie\n")
	got, err = LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir returned error: %v", err)
	}
	if got.Browser != IE {
		t.Errorf("Browser = %q, want %q", got.Browser, IE)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load of a missing file did not return an error")
	}
	bad := writeFile(t, dir, "bad.yaml", "browser: [chrome\n")
	if _, err := Load(bad); err == nil {
		t.Error("Load of malformed YAML did not return an error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		desc  string
		edit  func(*Config)
		valid bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown browser", func(c *Config) { c.Browser = "opera" }, false},
		{"remote without url", func(c *Config) { c.Browser = Remote }, false},
		{"remote with url", func(c *Config) { c.Browser, c.RemoteURL = Remote, "http://127.0.0.1:4444/wd/hub" }, true},
		{"negative settle", func(c *Config) { c.Settle = -time.Second }, false},
		{"width without height", func(c *Config) { c.WindowWidth = 800 }, false},
	}
	for _, test := range tests {
		c := Default()
		test.edit(&c)
		if err := c.Validate(); (err == nil) != test.valid {
			t.Errorf("%s: Validate() = %v, want valid %t", test.desc, err, test.valid)
		}
	}
}
