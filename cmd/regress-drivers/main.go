// Binary regress-drivers downloads and locates the browser driver
// executables used by regression tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/wanmail/regress/drivers"
	"github.com/wanmail/regress/internal/download"
)

// desiredChromeBuild is the known build of Chromium to download from the
// chromium-browser-snapshots/Linux_x64 bucket. It corresponds to version
// 76.0.3809.0.
const desiredChromeBuild = "664981"

var fs = afero.NewOsFs()

var globalFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  "v",
		Usage: "Log verbosity",
	},
	&cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download driver executables",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Usage:   "Directory to download into",
			EnvVars: []string{drivers.DirEnv},
		},
		&cli.BoolFlag{
			Name:  "latest",
			Usage: "Download the latest releases instead of the pinned versions",
		},
		&cli.BoolFlag{
			Name:  "browsers",
			Usage: "Also download a Chromium snapshot browser",
		},
	},
	Action: func(c *cli.Context) error {
		dir := c.String("dir")
		if dir == "" {
			dir = drivers.Dir()
		}
		files, err := filesToDownload(c.Context, c.Bool("latest"), c.Bool("browsers"))
		if err != nil {
			return err
		}
		if err := download.New().DownloadAll(c.Context, dir, files); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Downloaded %d files into %s\n", len(files), dir)
		return nil
	},
}

var pathCommand = &cli.Command{
	Name:      "path",
	Usage:     "Print the driver executable that tests would use",
	ArgsUsage: "NAME",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("expected exactly one driver name, got %d", c.NArg())
		}
		p, err := drivers.Resolve(c.Args().First())
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, p)
		return nil
	},
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "List the driver executables in the driver directory",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Usage:   "Directory to list",
			EnvVars: []string{drivers.DirEnv},
		},
	},
	Action: func(c *cli.Context) error {
		dir := c.String("dir")
		if dir == "" {
			dir = drivers.Dir()
		}
		return list(c, dir)
	},
}

// filesToDownload picks the pinned driver files, or the latest releases, and
// drops browsers unless they were asked for.
func filesToDownload(ctx context.Context, latest, browsers bool) ([]download.File, error) {
	files := download.DriverFiles()
	build := desiredChromeBuild
	if latest {
		build = ""
		gecko, err := download.LatestGeckodriver(ctx, nil)
		if err != nil {
			glog.Errorf("Unable to find the latest Geckodriver: %v", err)
		} else {
			files = replace(files, download.GeckodriverFile.Name, gecko)
		}
	}
	if latest || browsers {
		snapshot, err := download.ChromeSnapshotFiles(ctx, build)
		if err != nil {
			glog.Errorf("Unable to find the Chromium snapshot: %v", err)
		}
		for _, f := range snapshot {
			if f.Browser {
				files = append(files, f)
			} else if latest {
				files = replace(files, download.ChromeDriverFile.Name, f)
			}
		}
	}
	if browsers {
		return files, nil
	}
	var out []download.File
	for _, f := range files {
		if !f.Browser {
			out = append(out, f)
		}
	}
	return out, nil
}

func replace(files []download.File, name string, f download.File) []download.File {
	for i := range files {
		if files[i].Name == name {
			files[i] = f
			return files
		}
	}
	return append(files, f)
}

func list(c *cli.Context, dir string) error {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	name := color.New(color.FgCyan, color.Bold).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	n := 0
	for _, fi := range infos {
		if !fi.Mode().IsRegular() || (!drivers.IsWindows() && fi.Mode().Perm()&0111 == 0) {
			continue
		}
		n++
		p := filepath.Join(dir, fi.Name())
		v, err := drivers.Version(p)
		if err != nil {
			glog.V(1).Infof("No version for %s: %v", p, err)
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", name(fi.Name()), bad("unknown"))
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", name(fi.Name()), ok(v.String()))
	}
	if n == 0 {
		fmt.Fprintf(c.App.Writer, "No driver executables in %s\n", dir)
	}
	return nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "regress-drivers",
		Usage: "Manage browser driver executables for regression tests",
		Flags: globalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-color") {
				color.NoColor = true
			}
			if c.IsSet("v") {
				return flag.Set("v", strconv.Itoa(c.Int("v")))
			}
			return nil
		},
		Commands: []*cli.Command{
			downloadCommand,
			pathCommand,
			listCommand,
		},
	}
}

func main() {
	// glog registers its flags on the standard flag set; cli owns the
	// command line.
	flag.CommandLine.Parse(nil)
	flag.Set("logtostderr", "true")
	defer glog.Flush()

	if err := newApp().Run(os.Args); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
}
