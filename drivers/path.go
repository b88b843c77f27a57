// Package drivers locates browser driver executables and starts WebDriver
// sessions on top of them.
//
// Driver binaries are looked up on the PATH first. When a driver is not
// installed system-wide, the bundled driver directory (see Dir) is searched.
package drivers

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DirEnv is the environment variable that overrides the bundled driver
// directory.
const DirEnv = "REGRESS_DRIVERS_DIR"

// ErrNotFound is returned when a driver executable cannot be located.
var ErrNotFound = errors.New("driver executable not found")

var goos = runtime.GOOS

// IsWindows reports whether the host is running Windows.
func IsWindows() bool {
	return goos == "windows"
}

// Dir returns the directory holding bundled driver executables.
func Dir() string {
	if d := os.Getenv(DirEnv); d != "" {
		if abs, err := filepath.Abs(d); err == nil {
			return abs
		}
		return d
	}
	return filepath.Join(sourceDir(), "bin")
}

// sourceDir is the directory of this package's source files.
func sourceDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Dir(file)
}

// ToExe returns the absolute form of path. On Windows the file extension is
// replaced by ".exe" unless it already is one.
func ToExe(path string) string {
	return toExe(path, IsWindows())
}

func toExe(path string, windows bool) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	ext := filepath.Ext(abs)
	if !windows || strings.EqualFold(ext, ".exe") {
		return abs
	}
	return strings.TrimSuffix(abs, ext) + ".exe"
}

// Path returns the path of the named driver inside the bundled driver
// directory.
func Path(name string) string {
	return ToExe(filepath.Join(Dir(), name))
}
