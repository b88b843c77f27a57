package drivers

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/blang/semver"
	"github.com/golang/glog"
	"github.com/spf13/afero"
)

var (
	lookPath = exec.LookPath
	osFs     = afero.NewOsFs()
)

var versionRE = regexp.MustCompile(`\d+(?:\.\d+)+`)

// parseVersion extracts the first dotted version number in s. Only the
// first three components are kept: driver versions such as
// "76.0.3809.25" are not valid semantic versions as-is.
func parseVersion(s string) (semver.Version, bool) {
	m := versionRE.FindString(s)
	if m == "" {
		return semver.Version{}, false
	}
	parts := strings.Split(m, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	v, err := semver.ParseTolerant(strings.Join(parts, "."))
	if err != nil {
		return semver.Version{}, false
	}
	return v, true
}

type candidate struct {
	path      string
	version   semver.Version
	versioned bool
}

// Find returns the best driver executable named name* inside dir. Files
// whose names carry a newer version win; unversioned files rank below
// versioned ones. The file must be executable: on Windows that means an
// .exe name, elsewhere an executable mode.
func Find(fs afero.Fs, dir, name string) (string, error) {
	matches, err := afero.Glob(fs, filepath.Join(dir, name+"*"))
	if err != nil {
		return "", fmt.Errorf("error globbing %q: %v", name, err)
	}

	var cs []candidate
	for _, path := range matches {
		fi, err := fs.Stat(path)
		if err != nil {
			glog.Warningf("Error statting %q: %s", path, err)
			continue
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		if IsWindows() {
			if !strings.EqualFold(filepath.Ext(path), ".exe") {
				continue
			}
		} else if fi.Mode().Perm()&0111 == 0 {
			continue
		}
		c := candidate{path: path}
		c.version, c.versioned = parseVersion(strings.TrimPrefix(filepath.Base(path), name))
		cs = append(cs, c)
	}
	if len(cs) == 0 {
		return "", fmt.Errorf("%s in %s: %w", name, dir, ErrNotFound)
	}

	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		switch {
		case a.versioned && b.versioned && !a.version.EQ(b.version):
			return a.version.LT(b.version)
		case a.versioned != b.versioned:
			return b.versioned
		}
		return a.path < b.path
	})
	return cs[len(cs)-1].path, nil
}

// Resolve locates the named driver: the PATH is searched first, then the
// bundled driver directory.
func Resolve(name string) (string, error) {
	return ResolveIn(Dir(), name)
}

// ResolveIn is like Resolve, with dir searched instead of the bundled driver
// directory.
func ResolveIn(dir, name string) (string, error) {
	if p, err := lookPath(name); err == nil {
		return p, nil
	}
	if p, err := Find(osFs, dir, name); err == nil {
		return p, nil
	}
	p := ToExe(filepath.Join(dir, name))
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Version runs the driver with --version and parses the reported version.
func Version(path string) (semver.Version, error) {
	out, err := newExecCommand(path, "--version").Output()
	if err != nil {
		return semver.Version{}, fmt.Errorf("%s --version: %v", path, err)
	}
	v, ok := parseVersion(string(out))
	if !ok {
		return semver.Version{}, fmt.Errorf("%s --version: no version in %q", path, strings.TrimSpace(string(out)))
	}
	return v, nil
}
