// Package config handles configuration for regression test runs.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file and REGRESS_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables read by FromEnv and
// Load, e.g. REGRESS_BROWSER.
const EnvPrefix = "regress"

// Browsers accepted in Config.Browser.
const (
	Chrome    = "chrome"
	Firefox   = "firefox"
	PhantomJS = "phantomjs"
	IE        = "ie"
	Remote    = "remote"
)

// Config describes which browser a test case drives and how long it waits.
type Config struct {
	// Browser selects the driver: chrome, firefox, phantomjs, ie or remote.
	Browser string `yaml:"browser" envconfig:"BROWSER"`
	// Visible runs the browser with a window instead of headless.
	Visible bool `yaml:"visible" envconfig:"VISIBLE"`
	// RemoteURL is the address of a running WebDriver server. When set, no
	// local driver is started.
	RemoteURL string `yaml:"remote_url" envconfig:"REMOTE_URL"`
	// DriversDir overrides the bundled driver directory.
	DriversDir string `yaml:"drivers_dir" envconfig:"DRIVERS_DIR"`

	// Settle is slept after each page load before checking readiness, for
	// pages that keep changing after the load event.
	Settle time.Duration `yaml:"settle" envconfig:"SETTLE"`
	// Timeout bounds every wait.
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`

	WindowWidth  int `yaml:"window_width" envconfig:"WINDOW_WIDTH"`
	WindowHeight int `yaml:"window_height" envconfig:"WINDOW_HEIGHT"`

	// FrameBuffer starts an Xvfb server for the browser to run in.
	FrameBuffer bool `yaml:"frame_buffer" envconfig:"FRAME_BUFFER"`
	// Debug logs the WebDriver wire traffic.
	Debug bool `yaml:"debug" envconfig:"DEBUG"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Browser: Chrome,
		Timeout: 30 * time.Second,
	}
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Load loads configuration from a YAML file, then applies the environment.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %v", path, err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFromDir looks for regress.yaml or regress.yml in the directory. Without
// either, the environment alone is used.
func LoadFromDir(dir string) (Config, error) {
	for _, name := range []string{"regress.yaml", "regress.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return FromEnv()
}

// Validate checks that the configuration can be used to start a browser.
func (c Config) Validate() error {
	switch c.Browser {
	case Chrome, Firefox, PhantomJS, IE:
	case Remote:
		if c.RemoteURL == "" {
			return fmt.Errorf("browser %q requires remote_url", c.Browser)
		}
	default:
		return fmt.Errorf("unknown browser %q", c.Browser)
	}
	if c.Settle < 0 {
		return fmt.Errorf("settle must not be negative, got %v", c.Settle)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	if (c.WindowWidth == 0) != (c.WindowHeight == 0) {
		return fmt.Errorf("window size needs both width and height, got %dx%d", c.WindowWidth, c.WindowHeight)
	}
	return nil
}
